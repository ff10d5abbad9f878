package redisstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solvspace/voiceroom/internal/domain"
	"github.com/solvspace/voiceroom/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { rc.Close() })
	return New(rc)
}

func TestInsertGetDelete(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	p := &domain.Participant{UserID: "u1", Username: "alice", Slug: "abc"}
	require.NoError(t, st.Insert(ctx, p))
	assert.NotEmpty(t, p.ID, "insert must assign a row id")
	assert.False(t, p.JoinedAt.IsZero(), "insert must set joined_at")

	got, err := st.Get(ctx, "u1", "abc")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.False(t, got.Muted)

	require.NoError(t, st.Delete(ctx, "u1", "abc"))
	_, err = st.Get(ctx, "u1", "abc")
	assert.ErrorIs(t, err, domain.ErrParticipantNotFound)

	err = st.Delete(ctx, "u1", "abc")
	assert.ErrorIs(t, err, domain.ErrParticipantNotFound)
}

func TestListAndCountScopedBySlug(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Insert(ctx, &domain.Participant{UserID: "u1", Username: "a", Slug: "abc", JoinedAt: time.Unix(1, 0)}))
	require.NoError(t, st.Insert(ctx, &domain.Participant{UserID: "u2", Username: "b", Slug: "abc", JoinedAt: time.Unix(2, 0)}))
	require.NoError(t, st.Insert(ctx, &domain.Participant{UserID: "u3", Username: "c", Slug: "other", JoinedAt: time.Unix(3, 0)}))

	members, err := st.ListBySlug(ctx, "abc")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, domain.UserID("u1"), members[0].UserID, "list must be in join order")
	assert.Equal(t, domain.UserID("u2"), members[1].UserID)

	n, err := st.CountBySlug(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = st.CountBySlug(ctx, "empty")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSetMutedLastWriteWins(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Insert(ctx, &domain.Participant{UserID: "u1", Username: "a", Slug: "abc"}))

	toggles := []bool{true, false, true, true, false}
	for _, v := range toggles {
		require.NoError(t, st.SetMuted(ctx, "u1", "abc", v))
	}

	got, err := st.Get(ctx, "u1", "abc")
	require.NoError(t, err)
	assert.Equal(t, toggles[len(toggles)-1], got.Muted)
}

func TestTouchDoesNotRevertMute(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Insert(ctx, &domain.Participant{UserID: "u1", Username: "a", Slug: "abc"}))

	// Hammer the row with heartbeats while the mute flag flips. A
	// heartbeat writes only last_seen, so no interleaving may put the
	// flag back.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				require.NoError(t, st.Touch(ctx, "u1", "abc", time.Now()))
			}
		}()
	}
	require.NoError(t, st.SetMuted(ctx, "u1", "abc", true))
	wg.Wait()

	got, err := st.Get(ctx, "u1", "abc")
	require.NoError(t, err)
	assert.True(t, got.Muted, "heartbeat must not clobber the mute flag")
	assert.False(t, got.LastSeen.IsZero())
}

func TestTouchAndStale(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-10 * time.Minute)
	require.NoError(t, st.Insert(ctx, &domain.Participant{UserID: "u1", Username: "a", Slug: "abc", LastSeen: old}))
	require.NoError(t, st.Insert(ctx, &domain.Participant{UserID: "u2", Username: "b", Slug: "abc", LastSeen: old}))

	require.NoError(t, st.Touch(ctx, "u2", "abc", time.Now()))

	stale, err := st.Stale(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, domain.UserID("u1"), stale[0].UserID)

	err = st.Touch(ctx, "ghost", "abc", time.Now())
	assert.ErrorIs(t, err, domain.ErrParticipantNotFound)
}

func TestSubscribeDeliversChanges(t *testing.T) {
	st := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := st.Subscribe(ctx, "abc")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, st.Insert(ctx, &domain.Participant{UserID: "u1", Username: "a", Slug: "abc"}))
	require.NoError(t, st.SetMuted(ctx, "u1", "abc", true))
	require.NoError(t, st.Delete(ctx, "u1", "abc"))

	want := []store.ChangeKind{store.ChangeInsert, store.ChangeUpdate, store.ChangeDelete}
	for _, kind := range want {
		select {
		case ev := <-sub.Events():
			assert.Equal(t, kind, ev.Kind)
			assert.Equal(t, domain.UserID("u1"), ev.Participant.UserID)
			if kind == store.ChangeUpdate {
				assert.True(t, ev.Participant.Muted)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func TestSubscribeScopedBySlug(t *testing.T) {
	st := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := st.Subscribe(ctx, "abc")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, st.Insert(ctx, &domain.Participant{UserID: "u9", Username: "x", Slug: "other"}))
	require.NoError(t, st.Insert(ctx, &domain.Participant{UserID: "u1", Username: "a", Slug: "abc"}))

	select {
	case ev := <-sub.Events():
		assert.Equal(t, domain.RoomSlug("abc"), ev.Participant.Slug, "foreign-room events must not leak into the feed")
		assert.Equal(t, domain.UserID("u1"), ev.Participant.UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}
