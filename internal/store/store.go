// Package store defines the membership store the clients coordinate
// through: one row per (room, participant) plus a change feed scoped to
// a room slug.
package store

import (
	"context"
	"time"

	"github.com/solvspace/voiceroom/internal/domain"
)

type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// ChangeEvent is one membership mutation as observed by the store.
// Events for a slug are delivered in the order the store observed them;
// there is no ordering guarantee between a client's own write and the
// echo of that write arriving back through the feed.
type ChangeEvent struct {
	Kind        ChangeKind         `json:"kind"`
	Participant domain.Participant `json:"participant"`
}

// Subscription is an open change feed. It must be closed when the room
// is left to release the server-side channel.
type Subscription interface {
	Events() <-chan ChangeEvent
	Close() error
}

// Membership is the store-facing API. Insert assigns ID and timestamps.
// Mutations publish to the slug's feed; Touch does not, heartbeats are
// not membership changes.
type Membership interface {
	Insert(ctx context.Context, p *domain.Participant) error
	SetMuted(ctx context.Context, userID domain.UserID, slug domain.RoomSlug, muted bool) error
	Delete(ctx context.Context, userID domain.UserID, slug domain.RoomSlug) error
	Get(ctx context.Context, userID domain.UserID, slug domain.RoomSlug) (*domain.Participant, error)
	ListBySlug(ctx context.Context, slug domain.RoomSlug) ([]domain.Participant, error)
	CountBySlug(ctx context.Context, slug domain.RoomSlug) (int, error)
	Touch(ctx context.Context, userID domain.UserID, slug domain.RoomSlug, at time.Time) error
	Stale(ctx context.Context, olderThan time.Time) ([]domain.Participant, error)
	Subscribe(ctx context.Context, slug domain.RoomSlug) (Subscription, error)
}
