package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	orderDatamodel "github.com/frahmantamala/giftcard-fulfillment/internal/core/datamodel/order"
	"github.com/frahmantamala/giftcard-fulfillment/internal/core/events"
	"github.com/frahmantamala/giftcard-fulfillment/internal/metrics"
	"github.com/frahmantamala/giftcard-fulfillment/internal/order"
)

var ErrQueueFull = errors.New("notification queue full")

// Recorder stores the outcome of a notification on its order.
type Recorder interface {
	RecordNotification(ctx context.Context, orderID string, result order.NotificationResult) error
}

type Job struct {
	Event *events.OrderFulfilledEvent
}

type Worker struct {
	ID         int
	WorkerPool chan chan Job
	JobChannel chan Job
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan Job, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan Job),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, processFunc func(Job)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			select {
			case w.WorkerPool <- w.JobChannel:
			case <-ctx.Done():
				w.Logger.Debug("notification worker shutting down", "worker_id", w.ID)
				return
			}

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("worker processing notification", "worker_id", w.ID, "order_id", job.Event.OrderID)
				processFunc(job)
			case <-ctx.Done():
				w.Logger.Debug("notification worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

type DispatcherConfig struct {
	MaxWorkers   int
	JobQueueSize int
	SendTimeout  time.Duration
}

// Dispatcher mails fulfilled orders from a bounded worker pool. Delivery
// problems are recorded on the order and never touch its status.
type Dispatcher struct {
	mailer   Mailer
	recorder Recorder
	logger   *slog.Logger
	timeout  time.Duration

	jobQueue   chan Job
	workerPool chan chan Job
	maxWorkers int
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	once       sync.Once
}

func NewDispatcher(mailer Mailer, recorder Recorder, config DispatcherConfig, logger *slog.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())

	maxWorkers := config.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	jobQueueSize := config.JobQueueSize
	if jobQueueSize <= 0 {
		jobQueueSize = 100
	}
	timeout := config.SendTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Dispatcher{
		mailer:     mailer,
		recorder:   recorder,
		logger:     logger,
		timeout:    timeout,
		maxWorkers: maxWorkers,
		jobQueue:   make(chan Job, jobQueueSize),
		workerPool: make(chan chan Job, maxWorkers),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (d *Dispatcher) Start() {
	d.once.Do(func() {
		for i := 0; i < d.maxWorkers; i++ {
			worker := NewWorker(i, d.workerPool, d.logger)
			worker.Start(d.ctx, &d.wg, d.process)
		}

		d.wg.Add(1)
		go d.dispatch()

		d.logger.Info("notification worker pool started",
			"max_workers", d.maxWorkers,
			"queue_size", cap(d.jobQueue))
	})
}

// Attach subscribes the dispatcher to fulfilled orders on bus.
func (d *Dispatcher) Attach(bus *events.EventBus) {
	bus.Subscribe(events.EventTypeOrderFulfilled, d.HandleOrderFulfilled)
}

// HandleOrderFulfilled queues the mail without blocking the publisher.
func (d *Dispatcher) HandleOrderFulfilled(ctx context.Context, event events.Event) error {
	e, ok := event.(*events.OrderFulfilledEvent)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}
	select {
	case d.jobQueue <- Job{Event: e}:
		return nil
	default:
		d.logger.Warn("notification queue full, dropping mail", "order_id", e.OrderID, "queue_capacity", cap(d.jobQueue))
		d.record(ctx, e.OrderID, order.NotificationResult{To: e.Email, Error: ErrQueueFull.Error()})
		metrics.NotificationsSent.WithLabelValues("dropped").Inc()
		return ErrQueueFull
	}
}

func (d *Dispatcher) dispatch() {
	defer d.wg.Done()

	for {
		select {
		case job := <-d.jobQueue:
			select {
			case jobChannel := <-d.workerPool:
				select {
				case jobChannel <- job:
				case <-d.ctx.Done():
					d.logger.Info("notification dispatcher shutting down")
					return
				}
			case <-d.ctx.Done():
				d.logger.Info("notification dispatcher shutting down")
				return
			}
		case <-d.ctx.Done():
			d.logger.Info("notification dispatcher shutting down")
			return
		}
	}
}

func (d *Dispatcher) Shutdown() {
	d.logger.Info("shutting down notification dispatcher")
	d.cancel()
	d.wg.Wait()
	d.logger.Info("notification dispatcher shutdown complete")
}

func (d *Dispatcher) process(job Job) {
	e := job.Event
	if e.Email == "" {
		d.record(d.ctx, e.OrderID, order.NotificationResult{Error: "no recipient"})
		metrics.NotificationsSent.WithLabelValues("skipped").Inc()
		return
	}

	html, err := renderFulfilled(fulfilledView{
		Name:      e.Name,
		BrandName: e.BrandName,
		OrderID:   e.OrderID,
		Paid:      formatRupees(e.Payable),
		Test:      e.Status == string(orderDatamodel.StatusSuccessTest),
		Vouchers:  e.Vouchers,
	})
	if err != nil {
		d.fail(e, err)
		return
	}

	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()
	messageID, err := d.mailer.Send(ctx, Message{
		To:      e.Email,
		Subject: fmt.Sprintf("Your %s gift card (order %s)", e.BrandName, e.OrderID),
		HTML:    html,
	})
	if err != nil {
		d.fail(e, err)
		return
	}

	d.record(d.ctx, e.OrderID, order.NotificationResult{Sent: true, To: e.Email, MessageID: messageID})
	metrics.NotificationsSent.WithLabelValues("sent").Inc()
	d.logger.Info("fulfilment mail sent", "order_id", e.OrderID, "message_id", messageID)
}

func (d *Dispatcher) fail(e *events.OrderFulfilledEvent, err error) {
	d.logger.Warn("fulfilment mail failed", "order_id", e.OrderID, "error", err)
	d.record(d.ctx, e.OrderID, order.NotificationResult{To: e.Email, Error: err.Error()})
	metrics.NotificationsSent.WithLabelValues("failed").Inc()
}

func (d *Dispatcher) record(ctx context.Context, orderID string, result order.NotificationResult) {
	if err := d.recorder.RecordNotification(context.WithoutCancel(ctx), orderID, result); err != nil {
		d.logger.Error("failed to record notification", "order_id", orderID, "error", err)
	}
}
