package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vacademy-io/notify-delivery-api/internal/models"
	"github.com/vacademy-io/notify-delivery-api/pkg/jobs"
)

type outboxStoreStub struct {
	rows      []models.DispatchOutbox
	published []int64
}

func (s *outboxStoreStub) ListPending(ctx context.Context, limit int) ([]models.DispatchOutbox, error) {
	var pending []models.DispatchOutbox
	for _, row := range s.rows {
		if row.Status == models.OutboxStatusPending {
			pending = append(pending, row)
		}
	}
	return pending, nil
}

func (s *outboxStoreStub) MarkPublished(ctx context.Context, id int64) error {
	for i := range s.rows {
		if s.rows[i].ID == id {
			s.rows[i].Status = models.OutboxStatusPublished
		}
	}
	s.published = append(s.published, id)
	return nil
}

type publisherStub struct {
	bodies [][]byte
	err    error
}

func (s *publisherStub) Publish(ctx context.Context, body []byte) error {
	if s.err != nil {
		return s.err
	}
	s.bodies = append(s.bodies, body)
	return nil
}

type jobQueueStub struct {
	enqueued []jobs.Job
}

func (s *jobQueueStub) Enqueue(job jobs.Job) error {
	s.enqueued = append(s.enqueued, job)
	return nil
}

func TestRelayPublishesToBroker(t *testing.T) {
	outbox := &outboxStoreStub{rows: []models.DispatchOutbox{
		{ID: 1, AnnouncementID: "ann-1", Medium: models.MediumEmail, Status: models.OutboxStatusPending},
	}}
	publisher := &publisherStub{}

	relay := NewOutboxRelay(OutboxRelayDeps{Outbox: outbox, Publisher: publisher, Queue: &jobQueueStub{}})
	require.NoError(t, relay.RelayOnce(context.Background()))

	require.Len(t, publisher.bodies, 1)
	var task DispatchTask
	require.NoError(t, json.Unmarshal(publisher.bodies[0], &task))
	assert.Equal(t, "ann-1", task.AnnouncementID)
	assert.Equal(t, models.MediumEmail, task.Medium)
	assert.Equal(t, []int64{1}, outbox.published)
}

func TestRelayFallsBackToInProcessQueue(t *testing.T) {
	outbox := &outboxStoreStub{rows: []models.DispatchOutbox{
		{ID: 2, AnnouncementID: "ann-1", Medium: models.MediumPush, Status: models.OutboxStatusPending},
	}}
	queue := &jobQueueStub{}

	relay := NewOutboxRelay(OutboxRelayDeps{Outbox: outbox, Queue: queue})
	require.NoError(t, relay.RelayOnce(context.Background()))

	require.Len(t, queue.enqueued, 1)
	task, ok := queue.enqueued[0].Payload.(DispatchTask)
	require.True(t, ok)
	assert.Equal(t, models.MediumPush, task.Medium)
	assert.Equal(t, []int64{2}, outbox.published)
}

func TestRelayKeepsRowPendingOnPublishFailure(t *testing.T) {
	outbox := &outboxStoreStub{rows: []models.DispatchOutbox{
		{ID: 3, AnnouncementID: "ann-1", Medium: models.MediumEmail, Status: models.OutboxStatusPending},
	}}
	publisher := &publisherStub{err: errors.New("broker unavailable")}

	relay := NewOutboxRelay(OutboxRelayDeps{Outbox: outbox, Publisher: publisher, Queue: &jobQueueStub{}})
	require.NoError(t, relay.RelayOnce(context.Background()))

	assert.Empty(t, outbox.published)
	assert.Equal(t, models.OutboxStatusPending, outbox.rows[0].Status)
}

func TestDispatchHandlersDecodeTasks(t *testing.T) {
	dispatcher := &dispatcherRecorder{}

	jobHandler := DispatchJobHandler(dispatcher)
	require.NoError(t, jobHandler(context.Background(), jobs.Job{Payload: DispatchTask{AnnouncementID: "ann-1", Medium: models.MediumEmail}}))

	msgHandler := DispatchMessageHandler(context.Background(), dispatcher)
	body, _ := json.Marshal(DispatchTask{AnnouncementID: "ann-2", Medium: models.MediumPush})
	require.NoError(t, msgHandler(body))

	assert.Equal(t, []string{"ann-1", "ann-2"}, dispatcher.ids)

	require.Error(t, jobHandler(context.Background(), jobs.Job{Payload: "bogus"}))
	require.Error(t, msgHandler([]byte("not json")))
}

type dispatcherRecorder struct {
	ids []string
}

func (d *dispatcherRecorder) Dispatch(ctx context.Context, announcementID string, medium models.MediumType) error {
	d.ids = append(d.ids, announcementID)
	return nil
}
