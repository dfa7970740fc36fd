package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vacademy-io/notify-delivery-api/internal/channel"
	"github.com/vacademy-io/notify-delivery-api/internal/directory"
	"github.com/vacademy-io/notify-delivery-api/internal/models"
)

type dispatchTicketStub struct {
	tickets map[string]*models.DeliveryTicket
	order   []string
	errors  map[string]string
}

func newDispatchTicketStub(tickets ...*models.DeliveryTicket) *dispatchTicketStub {
	stub := &dispatchTicketStub{
		tickets: map[string]*models.DeliveryTicket{},
		errors:  map[string]string{},
	}
	for _, t := range tickets {
		stub.tickets[t.ID] = t
		stub.order = append(stub.order, t.ID)
	}
	return stub
}

func (s *dispatchTicketStub) ListPending(ctx context.Context, announcementID string, medium models.MediumType, limit int) ([]models.DeliveryTicket, error) {
	var pending []models.DeliveryTicket
	for _, id := range s.order {
		t := s.tickets[id]
		if t.AnnouncementID == announcementID && t.Medium == medium && t.Status == models.TicketStatusPending {
			pending = append(pending, *t)
		}
		if len(pending) == limit {
			break
		}
	}
	return pending, nil
}

func (s *dispatchTicketStub) PendingMediums(ctx context.Context, announcementID string) ([]models.MediumType, error) {
	seen := map[models.MediumType]struct{}{}
	var mediums []models.MediumType
	for _, id := range s.order {
		t := s.tickets[id]
		if t.AnnouncementID != announcementID || t.Status != models.TicketStatusPending {
			continue
		}
		if _, dup := seen[t.Medium]; dup {
			continue
		}
		seen[t.Medium] = struct{}{}
		mediums = append(mediums, t.Medium)
	}
	return mediums, nil
}

func (s *dispatchTicketStub) MarkSent(ctx context.Context, ticketID string) (bool, error) {
	t := s.tickets[ticketID]
	if t.Status != models.TicketStatusPending {
		return false, nil
	}
	t.Status = models.TicketStatusSent
	return true, nil
}

func (s *dispatchTicketStub) MarkDelivered(ctx context.Context, ticketID string) error {
	s.tickets[ticketID].Status = models.TicketStatusDelivered
	return nil
}

func (s *dispatchTicketStub) MarkFailed(ctx context.Context, ticketID string, errMsg string) error {
	s.tickets[ticketID].Status = models.TicketStatusFailed
	s.errors[ticketID] = errMsg
	return nil
}

func (s *dispatchTicketStub) countByStatus(status models.TicketStatus) int {
	count := 0
	for _, t := range s.tickets {
		if t.Status == status {
			count++
		}
	}
	return count
}

type mediumConfigStub struct {
	cfg *models.MediumConfig
}

func (s *mediumConfigStub) MediumConfig(ctx context.Context, announcementID string, medium models.MediumType) (*models.MediumConfig, error) {
	return s.cfg, nil
}

type contentStub struct {
	content *directory.Content
	err     error
}

func (s *contentStub) Content(ctx context.Context, contentID string) (*directory.Content, error) {
	return s.content, s.err
}

type profileStub struct {
	users map[string]directory.User
}

func (s *profileStub) UsersByIDs(ctx context.Context, ids []string) ([]directory.User, error) {
	var result []directory.User
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			result = append(result, u)
		}
	}
	return result, nil
}

type annReaderStub struct {
	ann *models.Announcement
}

func (s *annReaderStub) GetByID(ctx context.Context, id string) (*models.Announcement, error) {
	return s.ann, nil
}

type flakySender struct {
	failFor map[string]error
	sent    []channel.Message
}

func (s *flakySender) Send(ctx context.Context, msg channel.Message) error {
	if err := s.failFor[msg.UserID]; err != nil {
		return err
	}
	s.sent = append(s.sent, msg)
	return nil
}

type deliveredEventsStub struct {
	users []string
}

func (s *deliveredEventsStub) EmitTicketDelivered(ann *models.Announcement, userID string, mode models.ModeType) {
	s.users = append(s.users, userID)
}

func emailTicket(id, userID string) *models.DeliveryTicket {
	return &models.DeliveryTicket{
		ID:             id,
		AnnouncementID: "ann-1",
		UserID:         userID,
		Mode:           models.ModeSystemAlert,
		Medium:         models.MediumEmail,
		Status:         models.TicketStatusPending,
	}
}

func TestDispatchIsolatesPerTicketFailures(t *testing.T) {
	tickets := newDispatchTicketStub(
		emailTicket("t1", "u1"),
		emailTicket("t2", "u2"),
		emailTicket("t3", "u3"),
		emailTicket("t4", "u4"),
		emailTicket("t5", "u5"),
	)
	users := map[string]directory.User{}
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("u%d", i)
		users[id] = directory.User{ID: id, Email: id + "@example.com", FullName: "User " + id}
	}
	sender := &flakySender{failFor: map[string]error{
		"u2": fmt.Errorf("smtp send to u2@example.com: 550 mailbox unavailable"),
	}}
	events := &deliveredEventsStub{}

	svc := NewDispatchService(DispatchDeps{
		Tickets:       tickets,
		Configs:       &mediumConfigStub{},
		Contents:      &contentStub{content: &directory.Content{Subject: "Hello {{name}}", Body: "Body"}},
		Users:         &profileStub{users: users},
		Announcements: &annReaderStub{ann: &models.Announcement{ID: "ann-1", Title: "Notice", ContentID: "c1", InstituteID: "inst-1"}},
		Senders:       channel.Registry{models.MediumEmail: sender},
		Events:        events,
	})

	require.NoError(t, svc.Dispatch(context.Background(), "ann-1", models.MediumEmail))

	assert.Equal(t, 4, tickets.countByStatus(models.TicketStatusDelivered))
	assert.Equal(t, 1, tickets.countByStatus(models.TicketStatusFailed))
	assert.Contains(t, tickets.errors["t2"], "550 mailbox unavailable")
	assert.Len(t, events.users, 4)
	assert.NotContains(t, events.users, "u2")
}

type unclaimableTicketStub struct {
	*dispatchTicketStub
	listCalls int
}

func (s *unclaimableTicketStub) ListPending(ctx context.Context, announcementID string, medium models.MediumType, limit int) ([]models.DeliveryTicket, error) {
	s.listCalls++
	return s.dispatchTicketStub.ListPending(ctx, announcementID, medium, limit)
}

func (s *unclaimableTicketStub) MarkSent(ctx context.Context, ticketID string) (bool, error) {
	return false, fmt.Errorf("write tickets: connection refused")
}

func TestDispatchStopsWhenFullBatchClaimsNothing(t *testing.T) {
	tickets := &unclaimableTicketStub{dispatchTicketStub: newDispatchTicketStub(
		emailTicket("t1", "u1"),
		emailTicket("t2", "u2"),
	)}
	sender := &flakySender{}

	svc := NewDispatchService(DispatchDeps{
		Tickets:       tickets,
		Configs:       &mediumConfigStub{},
		Contents:      &contentStub{content: &directory.Content{Subject: "S", Body: "B"}},
		Users:         &profileStub{users: map[string]directory.User{}},
		Announcements: &annReaderStub{ann: &models.Announcement{ID: "ann-1", Title: "Notice", ContentID: "c1"}},
		Senders:       channel.Registry{models.MediumEmail: sender},
		BatchSize:     2,
	})

	require.NoError(t, svc.Dispatch(context.Background(), "ann-1", models.MediumEmail))

	assert.Equal(t, 1, tickets.listCalls)
	assert.Empty(t, sender.sent)
	assert.Equal(t, 2, tickets.countByStatus(models.TicketStatusPending))
}

func TestDispatchRendersTemplatesPerRecipient(t *testing.T) {
	tickets := newDispatchTicketStub(emailTicket("t1", "u1"))
	sender := &flakySender{}

	svc := NewDispatchService(DispatchDeps{
		Tickets: tickets,
		Configs: &mediumConfigStub{cfg: &models.MediumConfig{
			Medium: models.MediumEmail,
			Config: models.ConfigValues{"subject": "Hi {{name}}", "body": "New: {{title}}"},
		}},
		Contents:      &contentStub{content: &directory.Content{Body: "ignored"}},
		Users:         &profileStub{users: map[string]directory.User{"u1": {ID: "u1", Email: "u1@example.com", FullName: "Asha"}}},
		Announcements: &annReaderStub{ann: &models.Announcement{ID: "ann-1", Title: "Exam timetable", ContentID: "c1"}},
		Senders:       channel.Registry{models.MediumEmail: sender},
	})

	require.NoError(t, svc.Dispatch(context.Background(), "ann-1", models.MediumEmail))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Hi Asha", sender.sent[0].Subject)
	assert.Equal(t, "New: Exam timetable", sender.sent[0].Body)
	assert.Equal(t, "u1@example.com", sender.sent[0].Address)
}

func TestDispatchFailsTicketsWithoutSender(t *testing.T) {
	ticket := emailTicket("t1", "u1")
	ticket.Medium = models.MediumWhatsApp
	tickets := newDispatchTicketStub(ticket)

	svc := NewDispatchService(DispatchDeps{
		Tickets:       tickets,
		Configs:       &mediumConfigStub{},
		Users:         &profileStub{users: map[string]directory.User{"u1": {ID: "u1"}}},
		Announcements: &annReaderStub{ann: &models.Announcement{ID: "ann-1", Title: "Notice"}},
		Senders:       channel.Registry{},
	})

	require.NoError(t, svc.Dispatch(context.Background(), "ann-1", models.MediumWhatsApp))
	assert.Equal(t, 1, tickets.countByStatus(models.TicketStatusFailed))
	assert.Contains(t, tickets.errors["t1"], "no sender configured")
}

func TestDispatchAnnouncementCoversAllPendingMediums(t *testing.T) {
	email := emailTicket("t1", "u1")
	push := emailTicket("t2", "u1")
	push.Medium = models.MediumPush
	tickets := newDispatchTicketStub(email, push)
	sender := &flakySender{}

	svc := NewDispatchService(DispatchDeps{
		Tickets:       tickets,
		Configs:       &mediumConfigStub{},
		Users:         &profileStub{users: map[string]directory.User{"u1": {ID: "u1", Email: "u1@example.com"}}},
		Announcements: &annReaderStub{ann: &models.Announcement{ID: "ann-1", Title: "Notice"}},
		Senders: channel.Registry{
			models.MediumEmail: sender,
			models.MediumPush:  sender,
		},
	})

	require.NoError(t, svc.DispatchAnnouncement(context.Background(), "ann-1"))
	assert.Equal(t, 2, tickets.countByStatus(models.TicketStatusDelivered))
}
