// Package redisstore backs the membership store with redis: a hash per
// participant, a per-room zset ordered by join time, a global last-seen
// zset for the reaper, and a pub/sub channel per room for the change
// feed. Mutations touch single hash fields so a heartbeat and a mute
// toggle on the same row never clobber each other.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/solvspace/voiceroom/internal/domain"
	"github.com/solvspace/voiceroom/internal/store"
)

const seenKey = "presence:seen"

type Store struct {
	rc *redis.Client
}

func New(rc *redis.Client) *Store {
	return &Store{rc: rc}
}

func participantKey(slug domain.RoomSlug, userID domain.UserID) string {
	return "room:" + string(slug) + ":participant:" + string(userID)
}

func membersKey(slug domain.RoomSlug) string {
	return "room:" + string(slug) + ":members"
}

func eventsChannel(slug domain.RoomSlug) string {
	return "room:" + string(slug) + ":events"
}

func seenMember(slug domain.RoomSlug, userID domain.UserID) string {
	return string(slug) + "|" + string(userID)
}

func encode(p *domain.Participant) map[string]string {
	return map[string]string{
		"id":        p.ID,
		"user_id":   string(p.UserID),
		"username":  p.Username,
		"slug":      string(p.Slug),
		"muted":     strconv.FormatBool(p.Muted),
		"joined_at": p.JoinedAt.UTC().Format(time.RFC3339Nano),
		"last_seen": p.LastSeen.UTC().Format(time.RFC3339Nano),
	}
}

func decode(fields map[string]string) (*domain.Participant, error) {
	muted, err := strconv.ParseBool(fields["muted"])
	if err != nil {
		return nil, fmt.Errorf("bad muted field: %w", err)
	}
	joined, err := time.Parse(time.RFC3339Nano, fields["joined_at"])
	if err != nil {
		return nil, fmt.Errorf("bad joined_at field: %w", err)
	}
	seen, err := time.Parse(time.RFC3339Nano, fields["last_seen"])
	if err != nil {
		return nil, fmt.Errorf("bad last_seen field: %w", err)
	}
	return &domain.Participant{
		ID:       fields["id"],
		UserID:   domain.UserID(fields["user_id"]),
		Username: fields["username"],
		Slug:     domain.RoomSlug(fields["slug"]),
		Muted:    muted,
		JoinedAt: joined,
		LastSeen: seen,
	}, nil
}

func (s *Store) Insert(ctx context.Context, p *domain.Participant) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.JoinedAt.IsZero() {
		p.JoinedAt = now
	}
	if p.LastSeen.IsZero() {
		p.LastSeen = now
	}

	pipe := s.rc.TxPipeline()
	pipe.HSet(ctx, participantKey(p.Slug, p.UserID), encode(p))
	pipe.ZAdd(ctx, membersKey(p.Slug), redis.Z{
		Score:  float64(p.JoinedAt.UnixNano()),
		Member: string(p.UserID),
	})
	pipe.ZAdd(ctx, seenKey, redis.Z{
		Score:  float64(p.LastSeen.Unix()),
		Member: seenMember(p.Slug, p.UserID),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}

	s.publish(ctx, store.ChangeEvent{Kind: store.ChangeInsert, Participant: *p})
	return nil
}

func (s *Store) Get(ctx context.Context, userID domain.UserID, slug domain.RoomSlug) (*domain.Participant, error) {
	fields, err := s.rc.HGetAll(ctx, participantKey(slug, userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get participant: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrParticipantNotFound
	}
	return decode(fields)
}

// SetMuted writes only the muted field, so a concurrent heartbeat on
// the same row cannot revert the toggle. Concurrent toggles from the
// owner still race field-against-field and the last write wins.
func (s *Store) SetMuted(ctx context.Context, userID domain.UserID, slug domain.RoomSlug, muted bool) error {
	key := participantKey(slug, userID)
	exists, err := s.rc.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("update participant: %w", err)
	}
	if exists == 0 {
		return domain.ErrParticipantNotFound
	}
	if err := s.rc.HSet(ctx, key, "muted", strconv.FormatBool(muted)).Err(); err != nil {
		return fmt.Errorf("update participant: %w", err)
	}

	p, err := s.Get(ctx, userID, slug)
	if err != nil {
		return err
	}
	s.publish(ctx, store.ChangeEvent{Kind: store.ChangeUpdate, Participant: *p})
	return nil
}

func (s *Store) Delete(ctx context.Context, userID domain.UserID, slug domain.RoomSlug) error {
	p, err := s.Get(ctx, userID, slug)
	if err != nil {
		return err
	}

	pipe := s.rc.TxPipeline()
	pipe.Del(ctx, participantKey(slug, userID))
	pipe.ZRem(ctx, membersKey(slug), string(userID))
	pipe.ZRem(ctx, seenKey, seenMember(slug, userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete participant: %w", err)
	}

	s.publish(ctx, store.ChangeEvent{Kind: store.ChangeDelete, Participant: *p})
	return nil
}

func (s *Store) ListBySlug(ctx context.Context, slug domain.RoomSlug) ([]domain.Participant, error) {
	ids, err := s.rc.ZRange(ctx, membersKey(slug), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	out := make([]domain.Participant, 0, len(ids))
	for _, id := range ids {
		p, err := s.Get(ctx, domain.UserID(id), slug)
		if errors.Is(err, domain.ErrParticipantNotFound) {
			// Row vanished between ZRANGE and HGETALL, skip it.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

func (s *Store) CountBySlug(ctx context.Context, slug domain.RoomSlug) (int, error) {
	n, err := s.rc.ZCard(ctx, membersKey(slug)).Result()
	if err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return int(n), nil
}

// Touch writes only the last_seen field plus the reaper index, leaving
// every other field (muted included) alone.
func (s *Store) Touch(ctx context.Context, userID domain.UserID, slug domain.RoomSlug, at time.Time) error {
	key := participantKey(slug, userID)
	exists, err := s.rc.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("touch participant: %w", err)
	}
	if exists == 0 {
		return domain.ErrParticipantNotFound
	}

	at = at.UTC()
	pipe := s.rc.TxPipeline()
	pipe.HSet(ctx, key, "last_seen", at.Format(time.RFC3339Nano))
	pipe.ZAdd(ctx, seenKey, redis.Z{
		Score:  float64(at.Unix()),
		Member: seenMember(slug, userID),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("touch participant: %w", err)
	}
	return nil
}

func (s *Store) Stale(ctx context.Context, olderThan time.Time) ([]domain.Participant, error) {
	members, err := s.rc.ZRangeByScore(ctx, seenKey, &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(olderThan.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan stale: %w", err)
	}
	out := make([]domain.Participant, 0, len(members))
	for _, m := range members {
		slug, userID, ok := splitSeenMember(m)
		if !ok {
			continue
		}
		p, err := s.Get(ctx, userID, slug)
		if errors.Is(err, domain.ErrParticipantNotFound) {
			// Orphaned index entry, drop it.
			s.rc.ZRem(ctx, seenKey, m)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

func splitSeenMember(m string) (domain.RoomSlug, domain.UserID, bool) {
	slug, userID, ok := strings.Cut(m, "|")
	if !ok {
		return "", "", false
	}
	return domain.RoomSlug(slug), domain.UserID(userID), true
}

func (s *Store) publish(ctx context.Context, ev store.ChangeEvent) {
	raw, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "store.redis").Msg("marshal event")
		return
	}
	if err := s.rc.Publish(ctx, eventsChannel(ev.Participant.Slug), raw).Err(); err != nil {
		log.Error().Err(err).Str("module", "store.redis").Str("slug", string(ev.Participant.Slug)).Msg("publish event")
	}
}

type subscription struct {
	pubsub *redis.PubSub
	events chan store.ChangeEvent
}

func (s *Store) Subscribe(ctx context.Context, slug domain.RoomSlug) (store.Subscription, error) {
	pubsub := s.rc.Subscribe(ctx, eventsChannel(slug))
	// Force the SUBSCRIBE round-trip so a broken connection fails here,
	// not silently inside the pump.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", slug, err)
	}

	sub := &subscription{
		pubsub: pubsub,
		events: make(chan store.ChangeEvent, 32),
	}
	go sub.pump(ctx, slug)
	return sub, nil
}

func (sub *subscription) pump(ctx context.Context, slug domain.RoomSlug) {
	defer close(sub.events)
	ch := sub.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev store.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Error().Err(err).Str("module", "store.redis").Str("slug", string(slug)).Msg("bad feed payload")
				continue
			}
			select {
			case sub.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (sub *subscription) Events() <-chan store.ChangeEvent { return sub.events }

func (sub *subscription) Close() error { return sub.pubsub.Close() }
