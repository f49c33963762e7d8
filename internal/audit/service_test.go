package audit_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/frahmantamala/employee-management/internal/audit"
	"github.com/frahmantamala/employee-management/internal/core/events"
	"github.com/frahmantamala/employee-management/pkg/logger"
)

type memorySink struct {
	mu      sync.Mutex
	records []audit.Record
	fail    bool
}

func (m *memorySink) Write(_ context.Context, r audit.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("sink down")
	}
	m.records = append(m.records, r)
	return nil
}

func (m *memorySink) List(_ context.Context, f audit.Filter) ([]audit.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []audit.Record{}
	for _, r := range m.records {
		if f.EventType == "" || r.EventType == f.EventType {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memorySink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type fakeChannel struct {
	declared  []string
	published []amqp.Publishing
	keys      []string
	closed    bool
}

func (f *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	if !durable {
		return amqp.Queue{}, errors.New("queue must be durable")
	}
	f.declared = append(f.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

var _ = Describe("Audit Service", func() {
	var (
		bus     *events.EventBus
		primary *memorySink
		service *audit.Service
	)

	BeforeEach(func() {
		bus = events.NewEventBus(logger.Discard())
		primary = &memorySink{}
		service = audit.NewService(primary, logger.Discard(), primary)
		service.RegisterEventHandlers(bus)
	})

	It("should record auth events published on the bus", func() {
		event := events.NewAuthEvent(events.EventTypeSessionsRevoked, "hr-1", "u-1", map[string]interface{}{"token_version": 2})
		Expect(bus.Publish(context.Background(), event)).To(Succeed())

		Eventually(primary.count).Should(Equal(1))
		records, err := service.List(context.Background(), audit.Filter{})
		Expect(err).NotTo(HaveOccurred())
		Expect(records[0].ID).To(Equal(event.EventID()))
		Expect(records[0].ActorID).To(Equal("hr-1"))
		Expect(records[0].SubjectID).To(Equal("u-1"))
		Expect(records[0].Metadata).To(HaveKeyWithValue("token_version", 2))
	})

	It("should ignore events that are not audited", func() {
		Expect(bus.PublishSync(context.Background(), events.NewAuthEvent("something.else", "", "", nil))).To(Succeed())
		Expect(primary.count()).To(Equal(0))
	})

	It("should keep writing to healthy sinks when one fails", func() {
		broken := &memorySink{fail: true}
		healthy := &memorySink{}
		svc := audit.NewService(nil, logger.Discard(), broken, healthy)

		err := svc.Record(context.Background(), audit.FromEvent(events.NewAuthEvent(events.EventTypeLogout, "u-1", "u-1", nil)))
		Expect(err).To(HaveOccurred())
		Expect(healthy.count()).To(Equal(1))
	})

	It("should list nothing without a reader", func() {
		records, err := audit.NewService(nil, logger.Discard()).List(context.Background(), audit.Filter{})
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(BeEmpty())
	})

	Describe("Handler", func() {
		It("should list records filtered by event type", func() {
			Expect(bus.PublishSync(context.Background(), events.NewAuthEvent(events.EventTypeLogout, "u-1", "u-1", nil))).To(Succeed())
			Expect(bus.PublishSync(context.Background(), events.NewAuthEvent(events.EventTypeLoginSucceeded, "u-1", "u-1", nil))).To(Succeed())

			rec := httptest.NewRecorder()
			audit.NewHandler(service).ListAuditLogs(rec, httptest.NewRequest(http.MethodGet, "/api/audit-logs?event_type=auth.logout", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			var resp audit.ListResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Records).To(HaveLen(1))
			Expect(resp.Limit).To(Equal(audit.DefaultListLimit))
		})

		It("should reject a non numeric limit", func() {
			rec := httptest.NewRecorder()
			audit.NewHandler(service).ListAuditLogs(rec, httptest.NewRequest(http.MethodGet, "/api/audit-logs?limit=ten", nil))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("AMQPPublisher", func() {
		It("should declare the durable queue and publish persistent JSON", func() {
			ch := &fakeChannel{}
			publisher, err := audit.NewAMQPPublisher(ch, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(ch.declared).To(Equal([]string{audit.DefaultQueue}))

			record := audit.FromEvent(events.NewAuthEvent(events.EventTypeLoginFailed, "", "", map[string]interface{}{"reason": "unknown_email"}))
			Expect(publisher.Write(context.Background(), record)).To(Succeed())

			Expect(ch.keys).To(Equal([]string{audit.DefaultQueue}))
			msg := ch.published[0]
			Expect(msg.DeliveryMode).To(Equal(amqp.Persistent))
			Expect(msg.ContentType).To(Equal("application/json"))
			Expect(msg.MessageId).To(Equal(record.ID))
			Expect(msg.Type).To(Equal(events.EventTypeLoginFailed))

			var decoded audit.Record
			Expect(json.Unmarshal(msg.Body, &decoded)).To(Succeed())
			Expect(decoded.Metadata).To(HaveKeyWithValue("reason", "unknown_email"))

			Expect(publisher.Close()).To(Succeed())
			Expect(ch.closed).To(BeTrue())
		})
	})
})
