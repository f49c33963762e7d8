package audit

import "time"

type Log struct {
	ID        string    `db:"id"`
	EventType string    `db:"event_type"`
	ActorID   string    `db:"actor_id"`
	SubjectID string    `db:"subject_id"`
	Metadata  string    `db:"metadata"`
	CreatedAt time.Time `db:"created_at"`
}
