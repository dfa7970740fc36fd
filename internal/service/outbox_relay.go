package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/vacademy-io/notify-delivery-api/internal/models"
	"github.com/vacademy-io/notify-delivery-api/pkg/jobs"
)

// DispatchTask is the message handed from the outbox relay to the dispatch
// workers, over RabbitMQ or the in-process queue.
type DispatchTask struct {
	AnnouncementID string            `json:"announcement_id"`
	Medium         models.MediumType `json:"medium"`
}

type outboxStore interface {
	ListPending(ctx context.Context, limit int) ([]models.DispatchOutbox, error)
	MarkPublished(ctx context.Context, id int64) error
}

type queuePublisher interface {
	Publish(ctx context.Context, body []byte) error
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type ticketDispatcher interface {
	Dispatch(ctx context.Context, announcementID string, medium models.MediumType) error
}

// OutboxRelay drains committed dispatch markers into the dispatch transport.
// With RabbitMQ enabled the marker becomes a persistent queue message; without
// it the marker feeds the in-process worker pool. Either way a marker is
// stamped PUBLISHED only after the hand-off succeeds, so a crash between
// commit and hand-off is replayed on the next sweep.
type OutboxRelay struct {
	outbox     outboxStore
	publisher  queuePublisher
	queue      jobDispatcher
	dispatcher ticketDispatcher
	interval   time.Duration
	batchSize  int
	logger     *zap.Logger
}

// OutboxRelayDeps collects the relay's collaborators. Publisher may be nil;
// Queue is the fallback transport and must be set.
type OutboxRelayDeps struct {
	Outbox     outboxStore
	Publisher  queuePublisher
	Queue      jobDispatcher
	Dispatcher ticketDispatcher
	Interval   time.Duration
	BatchSize  int
	Logger     *zap.Logger
}

// NewOutboxRelay constructs the relay.
func NewOutboxRelay(deps OutboxRelayDeps) *OutboxRelay {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Interval <= 0 {
		deps.Interval = 2 * time.Second
	}
	if deps.BatchSize <= 0 {
		deps.BatchSize = 50
	}
	return &OutboxRelay{
		outbox:     deps.Outbox,
		publisher:  deps.Publisher,
		queue:      deps.Queue,
		dispatcher: deps.Dispatcher,
		interval:   deps.Interval,
		batchSize:  deps.BatchSize,
		logger:     deps.Logger,
	}
}

// Run sweeps the outbox until the context ends.
func (r *OutboxRelay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.RelayOnce(ctx); err != nil {
				r.logger.Error("outbox sweep failed", zap.Error(err))
			}
		}
	}
}

// RelayOnce publishes one batch of pending markers.
func (r *OutboxRelay) RelayOnce(ctx context.Context) error {
	rows, err := r.outbox.ListPending(ctx, r.batchSize)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := r.publish(ctx, row); err != nil {
			r.logger.Warn("outbox row publish failed, will retry",
				zap.Int64("outbox_id", row.ID),
				zap.String("announcement_id", row.AnnouncementID),
				zap.Error(err),
			)
			continue
		}
		if err := r.outbox.MarkPublished(ctx, row.ID); err != nil {
			return err
		}
	}
	return nil
}

func (r *OutboxRelay) publish(ctx context.Context, row models.DispatchOutbox) error {
	task := DispatchTask{AnnouncementID: row.AnnouncementID, Medium: row.Medium}

	if r.publisher != nil {
		body, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("marshal dispatch task: %w", err)
		}
		return r.publisher.Publish(ctx, body)
	}

	return r.queue.Enqueue(jobs.Job{
		ID:      strconv.FormatInt(row.ID, 10),
		Type:    "dispatch",
		Payload: task,
	})
}

// DispatchJobHandler adapts the dispatcher to the in-process job queue.
func DispatchJobHandler(dispatcher ticketDispatcher) jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		task, ok := job.Payload.(DispatchTask)
		if !ok {
			return fmt.Errorf("unexpected dispatch payload %T", job.Payload)
		}
		return dispatcher.Dispatch(ctx, task.AnnouncementID, task.Medium)
	}
}

// DispatchMessageHandler adapts the dispatcher to the RabbitMQ consumer.
func DispatchMessageHandler(ctx context.Context, dispatcher ticketDispatcher) func([]byte) error {
	return func(body []byte) error {
		var task DispatchTask
		if err := json.Unmarshal(body, &task); err != nil {
			return fmt.Errorf("decode dispatch task: %w", err)
		}
		return dispatcher.Dispatch(ctx, task.AnnouncementID, task.Medium)
	}
}
