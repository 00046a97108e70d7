// Package availability polls shop open/closed state and gates cart
// mutations on it. The guard holds the last observed state per watched
// shop and emits an event on every open/closed transition.
package availability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tapdine/tapdine-backend/internal/commerce"
	"github.com/tapdine/tapdine-backend/pkg/enums"
	"github.com/tapdine/tapdine-backend/pkg/logger"
	"github.com/tapdine/tapdine-backend/pkg/metrics"
	"github.com/tapdine/tapdine-backend/pkg/polling"
)

const pollerName = "availability"

// Event is emitted when a watched shop flips between open and closed.
type Event struct {
	ShopID   string          `json:"shop_id"`
	Previous enums.ShopState `json:"previous"`
	Current  enums.ShopState `json:"current"`
	At       time.Time       `json:"at"`
}

type shopReader interface {
	GetShop(ctx context.Context, shopID string) (*commerce.Shop, error)
}

// Service watches venue availability.
type Service interface {
	Watch(ctx context.Context, shopID string) error
	Unwatch(shopID string)
	IsOpen(ctx context.Context, shopID string) bool
	State(shopID string) (enums.ShopState, bool)
	Subscribe() (<-chan Event, func())
	StopAll()
}

type watched struct {
	sub   *polling.Subscription
	state enums.ShopState
	known bool
}

type service struct {
	remote   shopReader
	interval time.Duration
	metrics  *metrics.EngineMetrics
	logg     *logger.Logger

	mu          sync.Mutex
	shops       map[string]*watched
	subscribers map[int]chan Event
	nextSubID   int
}

// NewService wires the availability guard.
func NewService(remote shopReader, interval time.Duration, m *metrics.EngineMetrics, logg *logger.Logger) (Service, error) {
	if remote == nil {
		return nil, fmt.Errorf("commerce client required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		remote:      remote,
		interval:    interval,
		metrics:     m,
		logg:        logg,
		shops:       map[string]*watched{},
		subscribers: map[int]chan Event{},
	}, nil
}

// Watch starts polling one shop. Watching a shop twice is a no-op.
func (s *service) Watch(ctx context.Context, shopID string) error {
	if shopID == "" {
		return fmt.Errorf("shop id required")
	}

	s.mu.Lock()
	if _, already := s.shops[shopID]; already {
		s.mu.Unlock()
		return nil
	}
	entry := &watched{}
	s.shops[shopID] = entry
	s.mu.Unlock()

	entry.sub = polling.Start(ctx, s.interval, s.tickFor(shopID, entry))
	s.logg.Info(s.logg.WithShopID(ctx, shopID), "availability watch started")
	return nil
}

func (s *service) Unwatch(shopID string) {
	s.mu.Lock()
	entry, ok := s.shops[shopID]
	if ok {
		delete(s.shops, shopID)
	}
	s.mu.Unlock()
	if ok && entry.sub != nil {
		entry.sub.Stop()
	}
}

// IsOpen reports whether the shop accepts orders. A shop whose state has
// not been observed yet is not blocked; only a confirmed closed state gates
// mutations.
func (s *service) IsOpen(_ context.Context, shopID string) bool {
	state, known := s.State(shopID)
	if !known {
		return true
	}
	return state == enums.ShopStateOpen
}

// State returns the last observed state and whether one exists.
func (s *service) State(shopID string) (enums.ShopState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.shops[shopID]
	if !ok || !entry.known {
		return "", false
	}
	return entry.state, true
}

// Subscribe registers a transition listener.
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

func (s *service) StopAll() {
	s.mu.Lock()
	entries := make([]*watched, 0, len(s.shops))
	for id, entry := range s.shops {
		entries = append(entries, entry)
		delete(s.shops, id)
	}
	s.mu.Unlock()
	for _, entry := range entries {
		if entry.sub != nil {
			entry.sub.Stop()
		}
	}
}

func (s *service) tickFor(shopID string, entry *watched) polling.Tick {
	return func(ctx context.Context, live func() bool) bool {
		started := time.Now()
		shop, err := s.remote.GetShop(ctx, shopID)
		s.observeTick(started)
		if err != nil {
			// Keep the last observed state across a failed read.
			s.countFailure()
			s.logg.Warn(ctx, "shop availability read failed, retaining previous state")
			return false
		}
		if !live() {
			return true
		}

		next := enums.ShopStateClosed
		if shop.Open {
			next = enums.ShopStateOpen
		}

		s.mu.Lock()
		previous := entry.state
		changed := !entry.known || previous != next
		firstObservation := !entry.known
		entry.state = next
		entry.known = true
		s.mu.Unlock()

		if changed && !firstObservation {
			s.emit(Event{ShopID: shopID, Previous: previous, Current: next, At: time.Now().UTC()})
		}
		return false
	}
}

func (s *service) emit(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
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
