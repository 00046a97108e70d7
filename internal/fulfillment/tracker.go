// Package fulfillment polls the commerce vendor for the preparation state
// of placed orders and turns state transitions into events: a pickup alert
// when the order is prepared, a completion event that sends the UI back to
// wherever it arrived from, and a terminal failure on cancellation.
package fulfillment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tapdine/tapdine-backend/internal/orders"
	"github.com/tapdine/tapdine-backend/pkg/enums"
	pkgerrors "github.com/tapdine/tapdine-backend/pkg/errors"
	"github.com/tapdine/tapdine-backend/pkg/logger"
	"github.com/tapdine/tapdine-backend/pkg/metrics"
	"github.com/tapdine/tapdine-backend/pkg/polling"
)

const pollerName = "fulfillment"

// EventKind classifies a fulfillment event.
type EventKind string

const (
	EventStatusChanged   EventKind = "status_changed"
	EventReadyForPickup  EventKind = "ready_for_pickup"
	EventCompleted       EventKind = "completed"
	EventTerminalFailure EventKind = "terminal_failure"
)

// Event is emitted on every observed transition of a tracked order.
type Event struct {
	Kind          EventKind               `json:"kind"`
	OrderID       uuid.UUID               `json:"order_id"`
	RemoteOrderID string                  `json:"remote_order_id"`
	Previous      enums.FulfillmentStatus `json:"previous"`
	Current       enums.FulfillmentStatus `json:"current"`
	Origin        enums.NavOrigin         `json:"origin,omitempty"`
	At            time.Time               `json:"at"`
}

type statusReader interface {
	GetFulfillmentState(ctx context.Context, remoteStatusID string) (string, error)
}

// Service tracks the fulfillment state of placed orders.
type Service interface {
	Track(ctx context.Context, orderID uuid.UUID, origin enums.NavOrigin) error
	StopTracking(orderID uuid.UUID)
	Tracking(orderID uuid.UUID) bool
	Subscribe() (<-chan Event, func())
	ResumeActive(ctx context.Context) error
	StopAll()
}

type tracked struct {
	sub            *polling.Subscription
	remoteOrderID  string
	remoteStatusID string
	origin         enums.NavOrigin
	status         enums.FulfillmentStatus
}

type service struct {
	remote   statusReader
	repo     orders.Repository
	interval time.Duration
	metrics  *metrics.EngineMetrics
	logg     *logger.Logger

	mu          sync.Mutex
	orders      map[uuid.UUID]*tracked
	subscribers map[int]chan Event
	nextSubID   int
}

// NewService wires the fulfillment tracker.
func NewService(remote statusReader, repo orders.Repository, interval time.Duration, m *metrics.EngineMetrics, logg *logger.Logger) (Service, error) {
	if remote == nil {
		return nil, fmt.Errorf("commerce client required")
	}
	if repo == nil {
		return nil, fmt.Errorf("order repository required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		remote:      remote,
		repo:        repo,
		interval:    interval,
		metrics:     m,
		logg:        logg,
		orders:      map[uuid.UUID]*tracked{},
		subscribers: map[int]chan Event{},
	}, nil
}

// Track starts polling one order. Tracking an order twice is a no-op, and a
// terminal order is never tracked.
func (s *service) Track(ctx context.Context, orderID uuid.UUID, origin enums.NavOrigin) error {
	record, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if record.Status.IsTerminal() {
		return nil
	}
	if record.RemoteStatusID == nil || *record.RemoteStatusID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order has no remote status reference")
	}
	if !origin.IsValid() {
		origin = enums.NavOriginOrdersList
	}

	s.mu.Lock()
	if _, already := s.orders[orderID]; already {
		s.mu.Unlock()
		return nil
	}
	entry := &tracked{
		remoteOrderID:  record.RemoteOrderID,
		remoteStatusID: *record.RemoteStatusID,
		origin:         origin,
		status:         record.Status,
	}
	s.orders[orderID] = entry
	s.mu.Unlock()

	entry.sub = polling.Start(ctx, s.interval, s.tickFor(orderID, entry))
	s.logg.Info(s.logg.WithOrderID(ctx, record.RemoteOrderID), "fulfillment tracking started")
	return nil
}

func (s *service) StopTracking(orderID uuid.UUID) {
	s.mu.Lock()
	entry, ok := s.orders[orderID]
	if ok {
		delete(s.orders, orderID)
	}
	s.mu.Unlock()
	if ok && entry.sub != nil {
		entry.sub.Stop()
	}
}

// Tracking reports whether the order currently has a live poll loop.
func (s *service) Tracking(orderID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.orders[orderID]
	return ok
}

// Subscribe registers an event listener. The returned cancel func must be
// called to release the channel.
func (s *service) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	ch := make(chan Event, 16)
	s.subscribers[id] = ch
	return ch, func() {
		s.mu.Lock()
		if existing, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(existing)
		}
		s.mu.Unlock()
	}
}

// ResumeActive restarts tracking for every non-terminal journaled order.
// Called once on startup so a restart does not orphan in-flight orders.
func (s *service) ResumeActive(ctx context.Context) error {
	records, err := s.repo.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, record := range records {
		if err := s.Track(ctx, record.ID, enums.NavOriginOrdersList); err != nil {
			s.logg.Error(ctx, "could not resume order tracking", err)
		}
	}
	return nil
}

func (s *service) StopAll() {
	s.mu.Lock()
	entries := make([]*tracked, 0, len(s.orders))
	for id, entry := range s.orders {
		entries = append(entries, entry)
		delete(s.orders, id)
	}
	s.mu.Unlock()
	for _, entry := range entries {
		if entry.sub != nil {
			entry.sub.Stop()
		}
	}
}

func (s *service) tickFor(orderID uuid.UUID, entry *tracked) polling.Tick {
	return func(ctx context.Context, live func() bool) bool {
		started := time.Now()
		raw, err := s.remote.GetFulfillmentState(ctx, entry.remoteStatusID)
		s.observeTick(started)
		if err != nil {
			// Keep the last known status and try again next tick.
			s.countFailure()
			s.logg.Warn(ctx, "fulfillment state read failed, retaining previous status")
			return false
		}
		if !live() {
			return true
		}

		next := mapRemoteState(raw)
		if next == enums.FulfillmentStatusUnknown {
			// An unrecognized state never downgrades what we know.
			s.logg.Warn(ctx, fmt.Sprintf("unrecognized fulfillment state %q", raw))
			return false
		}
		return s.apply(ctx, orderID, entry, next)
	}
}

// apply records a recognized state, last write wins, and emits the
// transition events. Returns true when the order reached a terminal state
// and polling should stop.
func (s *service) apply(ctx context.Context, orderID uuid.UUID, entry *tracked, next enums.FulfillmentStatus) bool {
	s.mu.Lock()
	previous := entry.status
	if next == previous {
		s.mu.Unlock()
		return false
	}
	entry.status = next
	if next.IsTerminal() {
		delete(s.orders, orderID)
	}
	s.mu.Unlock()

	if err := s.repo.UpdateStatus(ctx, orderID, next); err != nil {
		s.logg.Error(ctx, "order status journal update failed", err)
	}

	event := Event{
		Kind:          EventStatusChanged,
		OrderID:       orderID,
		RemoteOrderID: entry.remoteOrderID,
		Previous:      previous,
		Current:       next,
		At:            time.Now().UTC(),
	}
	s.emit(event)

	switch next {
	case enums.FulfillmentStatusPrepared:
		event.Kind = EventReadyForPickup
		s.emit(event)
	case enums.FulfillmentStatusCompleted:
		event.Kind = EventCompleted
		event.Origin = entry.origin
		s.emit(event)
	case enums.FulfillmentStatusCanceled, enums.FulfillmentStatusFailed:
		event.Kind = EventTerminalFailure
		s.emit(event)
	}
	return next.IsTerminal()
}

func (s *service) emit(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			// A stalled subscriber drops events rather than blocking the
			// poll loop.
		}
	}
}

func (s *service) observeTick(started time.Time) {
	if s.metrics != nil {
		s.metrics.IncPollTick(pollerName)
		s.metrics.ObservePollLatency(pollerName, time.Since(started))
	}
}

func (s *service) countFailure() {
	if s.metrics != nil {
		s.metrics.IncPollFailure(pollerName)
	}
}
