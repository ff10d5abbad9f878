// Package presence keeps room membership synchronized: join/leave
// bookkeeping against the store, the change-feed subscription, and the
// reaper that expires ghosts left behind by lost disconnect beacons.
package presence

import (
	"context"
	"errors"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/solvspace/voiceroom/internal/domain"
	"github.com/solvspace/voiceroom/internal/store"
)

type Synchronizer struct {
	store    store.Membership
	capacity int
}

func NewSynchronizer(st store.Membership, capacity int) *Synchronizer {
	return &Synchronizer{store: st, capacity: capacity}
}

func (s *Synchronizer) Capacity() int { return s.capacity }

// Join registers userID in slug. Joining a room you are already in is a
// no-op and returns the existing record.
//
// Capacity is checked before the insert and re-checked after it: the two
// round-trips are not atomic, so two racing joins can both pass the
// first check. The post-insert check orders members by join time and
// rolls back any insert that landed past the capacity, which turns the
// soft limit into an effective one without a store-side constraint.
func (s *Synchronizer) Join(ctx context.Context, slug domain.RoomSlug, userID domain.UserID, username string) (*domain.Participant, error) {
	if existing, err := s.store.Get(ctx, userID, slug); err == nil {
		return existing, nil
	} else if !errors.Is(err, domain.ErrParticipantNotFound) {
		return nil, err
	}

	count, err := s.store.CountBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if count >= s.capacity {
		return nil, domain.ErrRoomFull
	}

	p, err := domain.NewParticipant(userID, username, slug)
	if err != nil {
		return nil, err
	}
	if err := s.store.Insert(ctx, p); err != nil {
		return nil, err
	}

	over, err := s.overCapacity(ctx, slug, userID)
	if err != nil {
		log.Error().Err(err).Str("module", "presence").Str("slug", string(slug)).Msg("post-insert capacity check")
		return p, nil
	}
	if over {
		if err := s.Leave(ctx, slug, userID); err != nil {
			log.Error().Err(err).Str("module", "presence").Str("slug", string(slug)).Msg("capacity rollback")
		}
		return nil, domain.ErrRoomFull
	}
	return p, nil
}

// overCapacity reports whether userID landed past the room capacity,
// ordered by join time with user id as the tie-break.
func (s *Synchronizer) overCapacity(ctx context.Context, slug domain.RoomSlug, userID domain.UserID) (bool, error) {
	members, err := s.store.ListBySlug(ctx, slug)
	if err != nil {
		return false, err
	}
	if len(members) <= s.capacity {
		return false, nil
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].UserID < members[j].UserID
		}
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
	for i, m := range members {
		if m.UserID == userID {
			return i >= s.capacity, nil
		}
	}
	return false, nil
}

// SetMuted writes the owner's global mute flag. Idempotent; concurrent
// toggles race and the last write to land at the store wins.
func (s *Synchronizer) SetMuted(ctx context.Context, slug domain.RoomSlug, userID domain.UserID, muted bool) error {
	return s.store.SetMuted(ctx, userID, slug, muted)
}

// Leave removes the record. Deleting an absent record is not an error,
// so repeated leaves and the disconnect beacon racing a reaper sweep are
// both harmless.
func (s *Synchronizer) Leave(ctx context.Context, slug domain.RoomSlug, userID domain.UserID) error {
	err := s.store.Delete(ctx, userID, slug)
	if errors.Is(err, domain.ErrParticipantNotFound) {
		return nil
	}
	return err
}

// Heartbeat refreshes the liveness timestamp the reaper sweeps on.
func (s *Synchronizer) Heartbeat(ctx context.Context, slug domain.RoomSlug, userID domain.UserID) error {
	return s.store.Touch(ctx, userID, slug, timeNow())
}

// Snapshot returns the current member list in join order plus the count.
func (s *Synchronizer) Snapshot(ctx context.Context, slug domain.RoomSlug) ([]domain.Participant, int, error) {
	members, err := s.store.ListBySlug(ctx, slug)
	if err != nil {
		return nil, 0, err
	}
	return members, len(members), nil
}

// Subscribe opens the change feed for slug. The caller must Close the
// subscription when leaving the room.
func (s *Synchronizer) Subscribe(ctx context.Context, slug domain.RoomSlug) (store.Subscription, error) {
	return s.store.Subscribe(ctx, slug)
}
