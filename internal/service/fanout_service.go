package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vacademy-io/notify-delivery-api/internal/models"
	"github.com/vacademy-io/notify-delivery-api/pkg/config"
)

type recipientChecker interface {
	IsRecipient(ctx context.Context, announcementID, userID string) (member bool, found bool, err error)
}

type ticketRecipientChecker interface {
	HasTicket(ctx context.Context, announcementID, userID string) (bool, error)
}

type connectionRecorder interface {
	ConnectionOpened()
	ConnectionClosed()
	EventPushed()
}

// Connection is one live client subscription. Events arrive on the channel
// returned by Events; the owner must drain it until the hub closes it.
type Connection struct {
	id          string
	userID      string
	instituteID string
	events      chan models.Event
	createdAt   time.Time
	seq         uint64

	mu       sync.Mutex
	modes    map[models.ModeType]struct{}
	lastSeen time.Time
	closed   bool
}

// ID returns the connection identifier.
func (c *Connection) ID() string { return c.id }

// UserID returns the owning user.
func (c *Connection) UserID() string { return c.userID }

// Events returns the delivery channel. The hub closes it on disconnect.
func (c *Connection) Events() <-chan models.Event { return c.events }

// Touch records client liveness. The transport handler calls this whenever a
// write to the client succeeds.
func (c *Connection) Touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *Connection) wantsMode(mode models.ModeType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.modes) == 0 || mode == "" {
		return true
	}
	_, ok := c.modes[mode]
	return ok
}

func (c *Connection) staleSince(cutoff time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen.Before(cutoff)
}

// FanoutService is the in-memory hub pushing lifecycle events to connected
// clients. Recipient checks for broadcast events go through the Redis
// recipient set first and fall back to the ticket table when the set has
// expired.
type FanoutService struct {
	cache   recipientChecker
	tickets ticketRecipientChecker
	metrics connectionRecorder
	cfg     config.FanoutConfig
	logger  *zap.Logger

	mu      sync.RWMutex
	conns   map[string]*Connection
	byUser  map[string]map[string]*Connection
	nextSeq uint64
}

// NewFanoutService constructs the hub.
func NewFanoutService(cache recipientChecker, tickets ticketRecipientChecker, metrics connectionRecorder, cfg config.FanoutConfig, logger *zap.Logger) *FanoutService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConnectionBuffer <= 0 {
		cfg.ConnectionBuffer = 32
	}
	if cfg.MaxConnsPerUser <= 0 {
		cfg.MaxConnsPerUser = 5
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	return &FanoutService{
		cache:   cache,
		tickets: tickets,
		metrics: metrics,
		cfg:     cfg,
		logger:  logger,
		conns:   make(map[string]*Connection),
		byUser:  make(map[string]map[string]*Connection),
	}
}

// Connect registers a live client. When the user already holds the maximum
// number of connections the oldest one is evicted.
func (s *FanoutService) Connect(userID, instituteID string, modes []models.ModeType) *Connection {
	conn := &Connection{
		id:          uuid.NewString(),
		userID:      userID,
		instituteID: instituteID,
		events:      make(chan models.Event, s.cfg.ConnectionBuffer),
		createdAt:   time.Now(),
		lastSeen:    time.Now(),
		modes:       modeSet(modes),
	}

	var evicted *Connection
	s.mu.Lock()
	s.nextSeq++
	conn.seq = s.nextSeq
	userConns := s.byUser[userID]
	if userConns == nil {
		userConns = make(map[string]*Connection)
		s.byUser[userID] = userConns
	}
	if len(userConns) >= s.cfg.MaxConnsPerUser {
		for _, candidate := range userConns {
			if evicted == nil || candidate.seq < evicted.seq {
				evicted = candidate
			}
		}
		if evicted != nil {
			s.removeLocked(evicted)
		}
	}
	s.conns[conn.id] = conn
	userConns[conn.id] = conn
	s.mu.Unlock()

	if evicted != nil {
		s.logger.Info("evicted oldest connection for user",
			zap.String("user_id", userID),
			zap.String("connection_id", evicted.id),
		)
	}
	if s.metrics != nil {
		s.metrics.ConnectionOpened()
	}
	return conn
}

// Subscribe replaces the connection's mode filter. An empty list means all
// modes.
func (s *FanoutService) Subscribe(conn *Connection, modes []models.ModeType) {
	conn.mu.Lock()
	conn.modes = modeSet(modes)
	conn.mu.Unlock()
}

// Disconnect removes a connection and closes its channel.
func (s *FanoutService) Disconnect(conn *Connection) {
	s.mu.Lock()
	s.removeLocked(conn)
	s.mu.Unlock()
}

func (s *FanoutService) removeLocked(conn *Connection) {
	if _, ok := s.conns[conn.id]; !ok {
		return
	}
	delete(s.conns, conn.id)
	if userConns := s.byUser[conn.userID]; userConns != nil {
		delete(userConns, conn.id)
		if len(userConns) == 0 {
			delete(s.byUser, conn.userID)
		}
	}
	conn.mu.Lock()
	if !conn.closed {
		conn.closed = true
		close(conn.events)
	}
	conn.mu.Unlock()
	if s.metrics != nil {
		s.metrics.ConnectionClosed()
	}
}

// ConnectionCount reports the number of live connections.
func (s *FanoutService) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// EmitNewAnnouncement pushes creation events to the resolved recipients, one
// event per active mode so mode-filtered subscriptions receive exactly the
// surfaces they asked for.
func (s *FanoutService) EmitNewAnnouncement(ann *models.Announcement, userIDs []string, modes []models.ModeType) {
	if len(modes) == 0 {
		modes = []models.ModeType{models.ModeSystemAlert}
	}
	for _, mode := range modes {
		event := models.Event{
			Type:           models.EventTypeAnnouncementCreated,
			AnnouncementID: ann.ID,
			InstituteID:    ann.InstituteID,
			ModeType:       mode,
			Persistent:     true,
			EventID:        uuid.NewString(),
			Data: map[string]interface{}{
				"title": ann.Title,
			},
		}
		for _, userID := range userIDs {
			s.sendToUser(userID, event)
		}
	}
}

// EmitTicketDelivered pushes a targeted delivery confirmation.
func (s *FanoutService) EmitTicketDelivered(ann *models.Announcement, userID string, mode models.ModeType) {
	s.sendToUser(userID, models.Event{
		Type:           models.EventTypeTicketDelivered,
		AnnouncementID: ann.ID,
		TargetUserID:   userID,
		InstituteID:    ann.InstituteID,
		ModeType:       mode,
		EventID:        uuid.NewString(),
	})
}

// BroadcastAnnouncementUpdate pushes an update event to every connected
// recipient of the announcement. Membership is checked per user against the
// cached recipient set, with the ticket table as fallback, so non-recipients
// never see the event.
func (s *FanoutService) BroadcastAnnouncementUpdate(ctx context.Context, ann *models.Announcement) {
	event := models.Event{
		Type:           models.EventTypeAnnouncementUpdated,
		AnnouncementID: ann.ID,
		InstituteID:    ann.InstituteID,
		EventID:        uuid.NewString(),
	}

	s.mu.RLock()
	candidates := make([]*Connection, 0, len(s.conns))
	for _, conn := range s.conns {
		if conn.instituteID == ann.InstituteID {
			candidates = append(candidates, conn)
		}
	}
	s.mu.RUnlock()

	membership := make(map[string]bool)
	for _, conn := range candidates {
		isRecipient, known := membership[conn.userID]
		if !known {
			isRecipient = s.isRecipient(ctx, ann.ID, conn.userID)
			membership[conn.userID] = isRecipient
		}
		if !isRecipient {
			continue
		}
		s.deliver(conn, event)
	}
}

func (s *FanoutService) isRecipient(ctx context.Context, announcementID, userID string) bool {
	if s.cache != nil {
		member, found, err := s.cache.IsRecipient(ctx, announcementID, userID)
		if err != nil {
			s.logger.Warn("recipient cache check failed",
				zap.String("announcement_id", announcementID),
				zap.Error(err),
			)
		} else if found {
			return member
		}
	}
	if s.tickets == nil {
		return false
	}
	has, err := s.tickets.HasTicket(ctx, announcementID, userID)
	if err != nil {
		s.logger.Warn("recipient ticket check failed",
			zap.String("announcement_id", announcementID),
			zap.Error(err),
		)
		return false
	}
	return has
}

func (s *FanoutService) sendToUser(userID string, event models.Event) {
	s.mu.RLock()
	conns := make([]*Connection, 0, len(s.byUser[userID]))
	for _, conn := range s.byUser[userID] {
		conns = append(conns, conn)
	}
	s.mu.RUnlock()

	for _, conn := range conns {
		s.deliver(conn, event)
	}
}

// deliver pushes one event without blocking. A full buffer drops the event;
// persistent announcements survive in the ticket table, so a slow client only
// loses the live nudge.
func (s *FanoutService) deliver(conn *Connection, event models.Event) {
	if !event.IsHeartbeat() && !conn.wantsMode(event.ModeType) {
		return
	}
	conn.mu.Lock()
	if conn.closed {
		conn.mu.Unlock()
		return
	}
	select {
	case conn.events <- event:
		conn.mu.Unlock()
		if s.metrics != nil {
			s.metrics.EventPushed()
		}
	default:
		conn.mu.Unlock()
		s.logger.Warn("connection buffer full, dropping event",
			zap.String("connection_id", conn.id),
			zap.String("event_type", string(event.Type)),
		)
	}
}

// Run drives the heartbeat and stale-connection sweeps until the context ends.
func (s *FanoutService) Run(ctx context.Context) {
	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	cleanup := time.NewTicker(s.cfg.CleanupInterval)
	defer heartbeat.Stop()
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return
		case <-heartbeat.C:
			s.broadcastHeartbeat()
		case <-cleanup.C:
			s.dropStale()
		}
	}
}

func (s *FanoutService) broadcastHeartbeat() {
	event := models.Event{Type: models.EventTypeHeartbeat, EventID: uuid.NewString()}
	s.mu.RLock()
	conns := make([]*Connection, 0, len(s.conns))
	for _, conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.RUnlock()
	for _, conn := range conns {
		s.deliver(conn, event)
	}
}

func (s *FanoutService) dropStale() {
	cutoff := time.Now().Add(-s.cfg.StaleAfter)
	s.mu.Lock()
	var stale []*Connection
	for _, conn := range s.conns {
		if conn.staleSince(cutoff) {
			stale = append(stale, conn)
		}
	}
	for _, conn := range stale {
		s.removeLocked(conn)
	}
	s.mu.Unlock()

	if len(stale) > 0 {
		s.logger.Info("dropped stale connections", zap.Int("count", len(stale)))
	}
}

func (s *FanoutService) closeAll() {
	s.mu.Lock()
	for _, conn := range s.conns {
		s.removeLocked(conn)
	}
	s.mu.Unlock()
}

func modeSet(modes []models.ModeType) map[models.ModeType]struct{} {
	if len(modes) == 0 {
		return nil
	}
	set := make(map[models.ModeType]struct{}, len(modes))
	for _, mode := range modes {
		set[mode] = struct{}{}
	}
	return set
}
