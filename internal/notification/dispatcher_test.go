package notification_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/smtp"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/giftcard-fulfillment/internal/core/events"
	"github.com/frahmantamala/giftcard-fulfillment/internal/notification"
	"github.com/frahmantamala/giftcard-fulfillment/internal/order"
	"github.com/frahmantamala/giftcard-fulfillment/internal/vault"
)

type capturingMailer struct {
	mu   sync.Mutex
	sent []notification.Message
	err  error
	gate chan struct{}
}

func (m *capturingMailer) Send(ctx context.Context, msg notification.Message) (string, error) {
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, msg)
	return "<msg-1@test>", nil
}

func (m *capturingMailer) messages() []notification.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notification.Message(nil), m.sent...)
}

type memoryRecorder struct {
	mu      sync.Mutex
	results map[string]order.NotificationResult
}

func (r *memoryRecorder) RecordNotification(_ context.Context, orderID string, result order.NotificationResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[orderID] = result
	return nil
}

func (r *memoryRecorder) get(orderID string) (order.NotificationResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[orderID]
	return res, ok
}

func fulfilled(orderID, email string) *events.OrderFulfilledEvent {
	return events.NewOrderFulfilledEvent(orderID, "SUCCESS", email, "Asha", "Amazon Pay", 905000,
		[]vault.MaskedCard{{Label: "Card 1", CodeLast4: "3456", PinLast4: "****", Expiry: "2027-10-31", Amount: "100.00"}})
}

var _ = Describe("Dispatcher", func() {
	var (
		mailer   *capturingMailer
		recorder *memoryRecorder
		logger   *slog.Logger
		d        *notification.Dispatcher
	)

	BeforeEach(func() {
		mailer = &capturingMailer{}
		recorder = &memoryRecorder{results: map[string]order.NotificationResult{}}
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	})

	AfterEach(func() {
		if d != nil {
			d.Shutdown()
		}
	})

	It("mails masked vouchers and records the message id", func() {
		// Given
		d = notification.NewDispatcher(mailer, recorder, notification.DispatcherConfig{MaxWorkers: 2}, logger)
		d.Start()

		// When
		Expect(d.HandleOrderFulfilled(context.Background(), fulfilled("o-1", "asha@example.com"))).To(Succeed())

		// Then
		Eventually(func() bool { _, ok := recorder.get("o-1"); return ok }).Should(BeTrue())
		res, _ := recorder.get("o-1")
		Expect(res.Sent).To(BeTrue())
		Expect(res.To).To(Equal("asha@example.com"))
		Expect(res.MessageID).To(Equal("<msg-1@test>"))

		msgs := mailer.messages()
		Expect(msgs).To(HaveLen(1))
		Expect(msgs[0].Subject).To(ContainSubstring("o-1"))
		Expect(msgs[0].HTML).To(ContainSubstring("3456"))
		Expect(msgs[0].HTML).To(ContainSubstring("9050.00"))
		Expect(msgs[0].HTML).To(ContainSubstring("Asha"))
	})

	It("records delivery failures without retrying", func() {
		// Given
		mailer.err = errors.New("mailbox unavailable")
		d = notification.NewDispatcher(mailer, recorder, notification.DispatcherConfig{}, logger)
		d.Start()

		// When
		Expect(d.HandleOrderFulfilled(context.Background(), fulfilled("o-2", "b@example.com"))).To(Succeed())

		// Then
		Eventually(func() bool { _, ok := recorder.get("o-2"); return ok }).Should(BeTrue())
		res, _ := recorder.get("o-2")
		Expect(res.Sent).To(BeFalse())
		Expect(res.Error).To(ContainSubstring("mailbox unavailable"))
	})

	It("skips orders without a recipient", func() {
		// Given
		d = notification.NewDispatcher(mailer, recorder, notification.DispatcherConfig{}, logger)
		d.Start()

		// When
		Expect(d.HandleOrderFulfilled(context.Background(), fulfilled("o-3", ""))).To(Succeed())

		// Then
		Eventually(func() bool { _, ok := recorder.get("o-3"); return ok }).Should(BeTrue())
		res, _ := recorder.get("o-3")
		Expect(res.Error).To(Equal("no recipient"))
		Expect(mailer.messages()).To(BeEmpty())
	})

	It("refuses work when the queue is full", func() {
		// Given
		mailer.gate = make(chan struct{})
		d = notification.NewDispatcher(mailer, recorder, notification.DispatcherConfig{MaxWorkers: 1, JobQueueSize: 1}, logger)
		d.Start()
		defer close(mailer.gate)

		// When
		var lastErr error
		for i := 0; i < 10 && lastErr == nil; i++ {
			lastErr = d.HandleOrderFulfilled(context.Background(), fulfilled("o-full", "c@example.com"))
		}

		// Then
		Expect(errors.Is(lastErr, notification.ErrQueueFull)).To(BeTrue())
	})

	It("ignores other event types", func() {
		// Given
		d = notification.NewDispatcher(mailer, recorder, notification.DispatcherConfig{}, logger)

		// When
		err := d.HandleOrderFulfilled(context.Background(), events.NewOrderFailedEvent("o-4", "x", false))

		// Then
		Expect(err).To(HaveOccurred())
	})

	It("receives fulfilled orders from the bus", func() {
		// Given
		bus := events.NewEventBus(logger)
		d = notification.NewDispatcher(mailer, recorder, notification.DispatcherConfig{}, logger)
		d.Attach(bus)
		d.Start()

		// When
		Expect(bus.Publish(context.Background(), fulfilled("o-5", "e@example.com"))).To(Succeed())

		// Then
		Eventually(func() bool { _, ok := recorder.get("o-5"); return ok }, time.Second).Should(BeTrue())
	})
})

var _ = Describe("SMTPMailer", func() {
	It("sends an HTML message with a Message-ID", func() {
		// Given
		m := notification.NewSMTPMailer(notification.SMTPConfig{Host: "smtp.example.com", Username: "u", Password: "p", From: "orders@shop.example"})
		var gotAddr string
		var gotMsg []byte
		m.SetSendFunc(func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
			gotAddr, gotMsg = addr, msg
			Expect(from).To(Equal("orders@shop.example"))
			Expect(to).To(Equal([]string{"asha@example.com"}))
			return nil
		})

		// When
		id, err := m.Send(context.Background(), notification.Message{To: "asha@example.com", Subject: "Hi\r\nBcc: evil@x", HTML: "<p>ok</p>"})

		// Then
		Expect(err).NotTo(HaveOccurred())
		Expect(id).To(HaveSuffix("@shop.example>"))
		Expect(gotAddr).To(Equal("smtp.example.com:587"))
		Expect(string(gotMsg)).To(ContainSubstring("Content-Type: text/html"))
		Expect(string(gotMsg)).To(ContainSubstring("Message-ID: " + id))
		Expect(string(gotMsg)).NotTo(ContainSubstring("\r\nBcc:"))
	})
})
