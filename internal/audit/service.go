package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/employee-management/internal/core/events"
)

type Reader interface {
	List(ctx context.Context, filter Filter) ([]Record, error)
}

type Service struct {
	sinks  []Sink
	reader Reader
	logger *slog.Logger
}

// NewService fans records out to every sink. reader serves the listing
// endpoint and may be nil when no queryable sink is configured.
func NewService(reader Reader, logger *slog.Logger, sinks ...Sink) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sinks:  sinks,
		reader: reader,
		logger: logger,
	}
}

func (s *Service) RegisterEventHandlers(bus *events.EventBus) {
	for _, eventType := range events.AuditedEventTypes {
		bus.Subscribe(eventType, s.HandleEvent)
	}
	s.logger.Info("audit event handlers registered", "event_types", len(events.AuditedEventTypes), "sinks", len(s.sinks))
}

func (s *Service) HandleEvent(ctx context.Context, event events.Event) error {
	return s.Record(ctx, FromEvent(event))
}

// Record writes to all sinks; a failing sink does not stop the others.
func (s *Service) Record(ctx context.Context, record Record) error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Write(ctx, record); err != nil {
			s.logger.WarnContext(ctx, "audit sink failed",
				"event_type", record.EventType,
				"event_id", record.ID,
				"error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) List(ctx context.Context, filter Filter) ([]Record, error) {
	if s.reader == nil {
		return []Record{}, nil
	}
	records, err := s.reader.List(ctx, filter.Normalize())
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	return records, nil
}

func FromEvent(event events.Event) Record {
	r := Record{
		ID:        event.EventID(),
		EventType: event.EventType(),
		CreatedAt: event.OccurredAt(),
	}
	if data, ok := event.Payload().(map[string]interface{}); ok && len(data) > 0 {
		r.Metadata = data
	}
	if ae, ok := event.(*events.AuthEvent); ok {
		r.ActorID = ae.ActorID
		r.SubjectID = ae.SubjectID
	}
	return r
}
