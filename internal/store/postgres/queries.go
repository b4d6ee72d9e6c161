package postgres

const eventColumns = `
    id, name, creator_id, price_limit, event_date, draw_at,
    status, failure_kind, failure_reason,
    started_at, completed_at, notified_at, created_at, updated_at
`

const queryInsertEvent = `
INSERT INTO events (id, name, creator_id, price_limit, event_date, draw_at, status, created_at, updated_at)
VALUES (:id, :name, :creator_id, :price_limit, :event_date, :draw_at, :status, :created_at, :updated_at)
`

const queryGetEvent = `SELECT` + eventColumns + `FROM events WHERE id = $1`

const queryLockEvent = `SELECT status FROM events WHERE id = $1 FOR UPDATE`

const queryShareLockEvent = `SELECT status FROM events WHERE id = $1 FOR SHARE`

const queryListEvents = `SELECT` + eventColumns + `FROM events ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`

const queryUpdateEvent = `
UPDATE events
SET name = $2, price_limit = $3, event_date = $4, draw_at = $5, updated_at = $6
WHERE id = $1
  AND status = 'created'
`

const queryGetEventStatus = `SELECT status FROM events WHERE id = $1`

// queryTransitionStatus is the compare-and-set behind created→started and the
// validation rollback started→created.
const queryTransitionStatus = `
UPDATE events
SET status = $3::text,
    updated_at = $4,
    started_at = CASE WHEN $3::text = 'started' THEN $4::timestamptz
                      WHEN $3::text = 'created' THEN NULL
                      ELSE started_at END
WHERE id = $1
  AND status = $2
`

const queryCompleteEvent = `
UPDATE events
SET status = 'completed', completed_at = $2, updated_at = $2
WHERE id = $1
  AND status = 'started'
`

const queryFailEvent = `
UPDATE events
SET status = 'failed', failure_kind = $2, failure_reason = $3, updated_at = $4
WHERE id = $1
  AND status = 'started'
`

const queryResetEvent = `
UPDATE events
SET status = 'created', failure_kind = NULL, failure_reason = NULL, started_at = NULL, updated_at = $2
WHERE id = $1
  AND status = 'failed'
`

const queryMarkNotified = `
UPDATE events
SET notified_at = COALESCE(notified_at, $2)
WHERE id = $1
  AND status = 'completed'
`

const queryListStaleDraws = `SELECT` + eventColumns + `FROM events
WHERE status = 'started' AND started_at < $1
ORDER BY started_at
LIMIT $2
`

const queryListUnnotified = `SELECT` + eventColumns + `FROM events
WHERE status = 'completed' AND notified_at IS NULL AND completed_at < $1
ORDER BY completed_at
LIMIT $2
`

const queryListDueEvents = `SELECT` + eventColumns + `FROM events
WHERE status = 'created' AND draw_at IS NOT NULL AND draw_at <= $1
ORDER BY draw_at
LIMIT $2
`

const queryInsertParticipant = `
INSERT INTO participants (id, event_id, name, email, status, created_at, updated_at)
VALUES (:id, :event_id, :name, :email, :status, :created_at, :updated_at)
`

const queryListParticipants = `
SELECT id, event_id, name, email, status, created_at, updated_at
FROM participants
WHERE event_id = $1
ORDER BY created_at, id
`

const queryListEligible = `
SELECT id
FROM participants
WHERE event_id = $1 AND status = 'accepted'
ORDER BY created_at, id
`

const querySetParticipantStatus = `
UPDATE participants
SET status = $3, updated_at = $4
WHERE event_id = $1 AND id = $2
`

const queryInsertExclusion = `
INSERT INTO exclusions (id, event_id, giver_id, recipient_id, one_way, created_at)
VALUES (:id, :event_id, :giver_id, :recipient_id, :one_way, :created_at)
`

const queryListExclusions = `
SELECT id, event_id, giver_id, recipient_id, one_way, created_at
FROM exclusions
WHERE event_id = $1
ORDER BY created_at, id
`

const queryInsertAssignments = `
INSERT INTO assignments (event_id, giver_id, recipient_id, created_at)
VALUES (:event_id, :giver_id, :recipient_id, :created_at)
`

const queryListAssignments = `
SELECT a.event_id, a.giver_id, a.recipient_id, a.created_at
FROM assignments a
JOIN participants p ON p.event_id = a.event_id AND p.id = a.giver_id
WHERE a.event_id = $1
ORDER BY p.created_at, p.id
`
