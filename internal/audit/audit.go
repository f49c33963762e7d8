package audit

import (
	"context"
	"encoding/json"
	"time"

	auditDatamodel "github.com/frahmantamala/employee-management/internal/core/datamodel/audit"
)

// Record is one entry of the audit trail.
type Record struct {
	ID        string                 `json:"id"`
	EventType string                 `json:"event_type"`
	ActorID   string                 `json:"actor_id,omitempty"`
	SubjectID string                 `json:"subject_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Sink receives every audited record. Sinks must be safe for concurrent use.
type Sink interface {
	Write(ctx context.Context, record Record) error
}

type Filter struct {
	EventType string
	ActorID   string
	Limit     int
	Offset    int
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

func (f Filter) Normalize() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

type ListResponse struct {
	Records []Record `json:"records"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

func ToDataModel(r Record) (*auditDatamodel.Log, error) {
	metadata := "{}"
	if len(r.Metadata) > 0 {
		raw, err := json.Marshal(r.Metadata)
		if err != nil {
			return nil, err
		}
		metadata = string(raw)
	}
	return &auditDatamodel.Log{
		ID:        r.ID,
		EventType: r.EventType,
		ActorID:   r.ActorID,
		SubjectID: r.SubjectID,
		Metadata:  metadata,
		CreatedAt: r.CreatedAt,
	}, nil
}

func FromDataModel(l *auditDatamodel.Log) Record {
	r := Record{
		ID:        l.ID,
		EventType: l.EventType,
		ActorID:   l.ActorID,
		SubjectID: l.SubjectID,
		CreatedAt: l.CreatedAt,
	}
	if l.Metadata != "" && l.Metadata != "{}" {
		_ = json.Unmarshal([]byte(l.Metadata), &r.Metadata)
	}
	return r
}
