// Command webhook-receiver is a development sink for wichtel notifications.
// It verifies the HMAC signature, drops redelivered notices by delivery ID and
// keeps the latest ones for inspection.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

const (
	headerDeliveryID = "X-Wichtel-Delivery-ID"
	headerEventID    = "X-Wichtel-Event-ID"
	headerSignature  = "X-Wichtel-Signature"
)

type notice struct {
	Received   string `json:"received"`
	DeliveryID string `json:"delivery_id"`
	EventID    string `json:"event_id"`
	Giver      string `json:"giver"`
	Recipient  string `json:"recipient"`
}

type stats struct {
	Delivered  int64    `json:"delivered"`
	Duplicates int64    `json:"duplicates"`
	Rejected   int64    `json:"rejected"`
	Last       []notice `json:"last"`
	Since      string   `json:"since"`
}

type receiver struct {
	secret    string
	maxStored int

	mu         sync.Mutex
	seen       map[string]bool
	delivered  int64
	duplicates int64
	rejected   int64
	last       []notice
	since      time.Time
}

func main() {
	addr := ":8080"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}
	rc := &receiver{
		secret:    os.Getenv("WEBHOOK_SECRET"),
		maxStored: 50,
		seen:      make(map[string]bool),
		since:     time.Now().UTC(),
	}
	if rc.secret == "" {
		log.Printf("webhook-receiver: WEBHOOK_SECRET not set; signatures are not checked")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/hook", rc.hook)
	mux.HandleFunc("/stats", rc.stats)
	mux.HandleFunc("/reset", rc.reset)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "ok")
	})

	log.Printf("webhook-receiver: listening on %s", addr)
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Fatal(server.ListenAndServe())
}

func (rc *receiver) hook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if rc.secret != "" && !validSignature(rc.secret, body, r.Header.Get(headerSignature)) {
		rc.mu.Lock()
		rc.rejected++
		rc.mu.Unlock()
		log.Printf("webhook-receiver: bad signature for delivery %s", r.Header.Get(headerDeliveryID))
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var payload struct {
		Giver struct {
			Name string `json:"name"`
		} `json:"giver"`
		Recipient struct {
			Name string `json:"name"`
		} `json:"recipient"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	n := notice{
		Received:   time.Now().UTC().Format(time.RFC3339Nano),
		DeliveryID: r.Header.Get(headerDeliveryID),
		EventID:    r.Header.Get(headerEventID),
		Giver:      payload.Giver.Name,
		Recipient:  payload.Recipient.Name,
	}

	rc.mu.Lock()
	duplicate := rc.seen[n.DeliveryID]
	if duplicate {
		rc.duplicates++
	} else {
		rc.seen[n.DeliveryID] = true
		rc.delivered++
		rc.last = append(rc.last, n)
		if len(rc.last) > rc.maxStored {
			rc.last = rc.last[len(rc.last)-rc.maxStored:]
		}
	}
	rc.mu.Unlock()

	if duplicate {
		log.Printf("webhook-receiver: duplicate delivery %s ignored", n.DeliveryID)
	} else {
		log.Printf("webhook-receiver: event %s: %s gives to %s", n.EventID, n.Giver, n.Recipient)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rc *receiver) stats(w http.ResponseWriter, _ *http.Request) {
	rc.mu.Lock()
	s := stats{
		Delivered:  rc.delivered,
		Duplicates: rc.duplicates,
		Rejected:   rc.rejected,
		Last:       append([]notice(nil), rc.last...),
		Since:      rc.since.Format(time.RFC3339),
	}
	rc.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

func (rc *receiver) reset(w http.ResponseWriter, _ *http.Request) {
	rc.mu.Lock()
	rc.seen = make(map[string]bool)
	rc.delivered, rc.duplicates, rc.rejected = 0, 0, 0
	rc.last = nil
	rc.since = time.Now().UTC()
	rc.mu.Unlock()
	fmt.Fprintln(w, "reset")
}

// validSignature mirrors the sender: hex(HMAC-SHA256(secret, body)).
func validSignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal([]byte(hex.EncodeToString(mac.Sum(nil))), []byte(signature))
}
