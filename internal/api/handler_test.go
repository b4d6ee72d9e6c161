package api

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePagination(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
		wantErr    bool
	}{
		{"", DefaultLimit, 0, false},
		{"?limit=50&offset=100", 50, 100, false},
		{"?limit=0", DefaultLimit, 0, false},
		{"?limit=" + strconv.Itoa(MaxLimit), MaxLimit, 0, false},
		{"?limit=" + strconv.Itoa(MaxLimit+1), 0, 0, true},
		{"?limit=-1", 0, 0, true},
		{"?limit=ten", 0, 0, true},
		{"?offset=-5", 0, 0, true},
		{"?offset=x", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/events"+tt.query, nil)
			limit, offset, err := parsePagination(req)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLimit, limit)
			assert.Equal(t, tt.wantOffset, offset)
		})
	}
}

func TestParsePagination_LimitExceededMessage(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/events?limit=5000", nil)
	_, _, err := parsePagination(req)
	assert.EqualError(t, err, "limit exceeds maximum of 1000")
}
