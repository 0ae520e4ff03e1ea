// Package session keeps the short-lived per-sender state that lets a
// conversation span several messages: the last bus stop looked up, a ride
// quote waiting for confirmation, a booked ride, and a pending login code.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bborn/textline/internal/models"
)

type Slot string

const (
	SlotBusQuery    Slot = "bus_query"
	SlotPendingRide Slot = "pending_ride"
	SlotActiveRide  Slot = "active_ride"
	SlotPendingAuth Slot = "pending_auth"
)

const (
	BusQueryTTL    = 20 * time.Minute
	PendingRideTTL = 10 * time.Minute
	PendingAuthTTL = 10 * time.Minute
)

// TTL returns how long a value in the slot stays readable. Zero means it
// never expires on its own.
func (s Slot) TTL() time.Duration {
	switch s {
	case SlotBusQuery:
		return BusQueryTTL
	case SlotPendingRide:
		return PendingRideTTL
	case SlotPendingAuth:
		return PendingAuthTTL
	}
	return 0
}

// Expiring lists the slots that carry a TTL
var Expiring = []Slot{SlotBusQuery, SlotPendingRide, SlotPendingAuth}

// Entry is a stored slot value and the time it was written
type Entry struct {
	Data     []byte
	StoredAt time.Time
}

// Backend persists raw slot entries. Implementations must be safe for
// concurrent use; a Save replaces whatever was stored for (phone, slot).
type Backend interface {
	Load(ctx context.Context, phone string, slot Slot) (*Entry, error)
	Save(ctx context.Context, phone string, slot Slot, entry Entry) error
	Delete(ctx context.Context, phone string, slot Slot) error
}

// Purger removes entries that can no longer be read. Backends that never
// shrink on their own are purged on a schedule.
type Purger interface {
	PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// Store applies slot TTLs on top of a Backend. Expiry is checked when a
// value is read, so a backend that never cleans up is still correct.
type Store struct {
	backend Backend
	now     func() time.Time
}

type Option func(*Store)

// WithClock replaces time.Now, mostly for tests
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(backend Backend, opts ...Option) *Store {
	s := &Store{backend: backend, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get decodes the slot into v. It returns false when nothing is stored or
// the stored value is older than the slot's TTL.
func (s *Store) Get(ctx context.Context, phone string, slot Slot, v any) (bool, error) {
	entry, err := s.backend.Load(ctx, phone, slot)
	if err != nil {
		return false, fmt.Errorf("failed to load %s: %w", slot, err)
	}
	if entry == nil {
		return false, nil
	}
	if ttl := slot.TTL(); ttl > 0 && s.now().Sub(entry.StoredAt) > ttl {
		return false, nil
	}
	if err := json.Unmarshal(entry.Data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", slot, err)
	}
	return true, nil
}

// Put overwrites the slot
func (s *Store) Put(ctx context.Context, phone string, slot Slot, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", slot, err)
	}
	if err := s.backend.Save(ctx, phone, slot, Entry{Data: data, StoredAt: s.now()}); err != nil {
		return fmt.Errorf("failed to save %s: %w", slot, err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, phone string, slot Slot) error {
	if err := s.backend.Delete(ctx, phone, slot); err != nil {
		return fmt.Errorf("failed to clear %s: %w", slot, err)
	}
	return nil
}

// Now is the store's clock, used to stamp CapturedAt on new values
func (s *Store) Now() time.Time {
	return s.now()
}

func get[T any](ctx context.Context, s *Store, phone string, slot Slot) (*T, error) {
	var v T
	ok, err := s.Get(ctx, phone, slot, &v)
	if err != nil || !ok {
		return nil, err
	}
	return &v, nil
}

func (s *Store) BusQuery(ctx context.Context, phone string) (*models.BusQuery, error) {
	return get[models.BusQuery](ctx, s, phone, SlotBusQuery)
}

func (s *Store) SetBusQuery(ctx context.Context, phone string, q models.BusQuery) error {
	return s.Put(ctx, phone, SlotBusQuery, q)
}

func (s *Store) PendingRide(ctx context.Context, phone string) (*models.PendingRide, error) {
	return get[models.PendingRide](ctx, s, phone, SlotPendingRide)
}

func (s *Store) SetPendingRide(ctx context.Context, phone string, r models.PendingRide) error {
	return s.Put(ctx, phone, SlotPendingRide, r)
}

func (s *Store) ActiveRide(ctx context.Context, phone string) (*models.ActiveRide, error) {
	return get[models.ActiveRide](ctx, s, phone, SlotActiveRide)
}

func (s *Store) SetActiveRide(ctx context.Context, phone string, r models.ActiveRide) error {
	return s.Put(ctx, phone, SlotActiveRide, r)
}

func (s *Store) PendingAuth(ctx context.Context, phone string) (*models.PendingAuth, error) {
	return get[models.PendingAuth](ctx, s, phone, SlotPendingAuth)
}

func (s *Store) SetPendingAuth(ctx context.Context, phone string, a models.PendingAuth) error {
	return s.Put(ctx, phone, SlotPendingAuth, a)
}
