package presence

import (
	"sort"
	"sync"

	"github.com/solvspace/voiceroom/internal/domain"
	"github.com/solvspace/voiceroom/internal/store"
)

// Mirror is a client's local copy of one room's membership. It holds the
// persisted rows reconciled from the snapshot and the change feed, plus
// the viewer-only state that never leaves this client: the local-mute
// set and the speaking set.
type Mirror struct {
	mu     sync.RWMutex
	self   domain.UserID
	byUser map[domain.UserID]domain.Participant

	localMuted map[domain.UserID]bool
	speaking   map[domain.UserID]bool
}

func NewMirror(self domain.UserID) *Mirror {
	return &Mirror{
		self:       self,
		byUser:     make(map[domain.UserID]domain.Participant),
		localMuted: make(map[domain.UserID]bool),
		speaking:   make(map[domain.UserID]bool),
	}
}

// Reset replaces the mirrored rows with a fresh snapshot. Viewer-only
// state survives a resync.
func (m *Mirror) Reset(snapshot []domain.Participant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byUser = make(map[domain.UserID]domain.Participant, len(snapshot))
	for _, p := range snapshot {
		m.byUser[p.UserID] = p
	}
}

// Apply folds one feed event into the mirror. Events are applied as
// delivered, including the echo of our own writes: a remote event for
// our own key supersedes the optimistic local value.
func (m *Mirror) Apply(ev store.ChangeEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch ev.Kind {
	case store.ChangeInsert, store.ChangeUpdate:
		m.byUser[ev.Participant.UserID] = ev.Participant
	case store.ChangeDelete:
		delete(m.byUser, ev.Participant.UserID)
		delete(m.speaking, ev.Participant.UserID)
	}
}

// SetOwnMuted applies the local user's mute toggle optimistically,
// before the store write round-trips.
func (m *Mirror) SetOwnMuted(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.byUser[m.self]; ok {
		p.Muted = muted
		m.byUser[m.self] = p
	}
}

func (m *Mirror) Get(id domain.UserID) (domain.Participant, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.byUser[id]
	return p, ok
}

// Participants returns the mirrored rows in join order.
func (m *Mirror) Participants() []domain.Participant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Participant, 0, len(m.byUser))
	for _, p := range m.byUser {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

func (m *Mirror) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUser)
}

// ToggleLocalMute flips the viewer-only silence decision for a remote
// participant and reports the new value. It never touches the stored
// global mute flag.
func (m *Mirror) ToggleLocalMute(id domain.UserID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.localMuted[id] = !m.localMuted[id]
	return m.localMuted[id]
}

func (m *Mirror) LocallyMuted(id domain.UserID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.localMuted[id]
}

// SetSpeaking replaces the acoustically-active set.
func (m *Mirror) SetSpeaking(ids []domain.UserID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.speaking = make(map[domain.UserID]bool, len(ids))
	for _, id := range ids {
		m.speaking[id] = true
	}
}

func (m *Mirror) Speaking(id domain.UserID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.speaking[id]
}
