package session

import (
	"github.com/rs/zerolog/log"

	"github.com/solvspace/voiceroom/internal/domain"
)

// The manager is its own EventSink: it does the sink bookkeeping first,
// then forwards each event to the optional observer.

func (m *Manager) ParticipantJoined(id domain.UserID) {
	log.Debug().Str("module", "session").Str("participant", string(id)).Msg("remote participant joined")
	if m.observer != nil {
		m.observer.ParticipantJoined(id)
	}
}

func (m *Manager) ParticipantLeft(id domain.UserID) {
	log.Debug().Str("module", "session").Str("participant", string(id)).Msg("remote participant left")
	if m.observer != nil {
		m.observer.ParticipantLeft(id)
	}
}

// TrackSubscribed creates the playback sink for id and applies the
// current local-mute decision at attach time.
func (m *Manager) TrackSubscribed(id domain.UserID, track RemoteTrack) {
	sink, err := m.sinks.NewSink(id, track)
	if err != nil {
		log.Error().Err(err).Str("module", "session").Str("participant", string(id)).Msg("sink create")
		return
	}

	m.mu.Lock()
	if prev, ok := m.sinksByID[id]; ok {
		// Stale sink from a reconnect; replace it.
		_ = prev.Close()
	}
	m.sinksByID[id] = sink
	muted := m.localMuted[id]
	m.mu.Unlock()

	if muted {
		sink.SetMuted(true)
	}
	log.Info().Str("module", "session").Str("participant", string(id)).Bool("locally_muted", muted).Msg("remote track attached")

	if m.observer != nil {
		m.observer.TrackSubscribed(id, track)
	}
}

func (m *Manager) TrackUnsubscribed(id domain.UserID) {
	m.mu.Lock()
	sink, ok := m.sinksByID[id]
	delete(m.sinksByID, id)
	m.mu.Unlock()
	if ok {
		if err := sink.Close(); err != nil {
			log.Error().Err(err).Str("module", "session").Str("participant", string(id)).Msg("sink close")
		}
		log.Info().Str("module", "session").Str("participant", string(id)).Msg("remote track detached")
	}
	if m.observer != nil {
		m.observer.TrackUnsubscribed(id)
	}
}

func (m *Manager) ActiveSpeakersChanged(ids []domain.UserID) {
	if m.observer != nil {
		m.observer.ActiveSpeakersChanged(ids)
	}
}

// SinkCount reports how many playback sinks are attached.
func (m *Manager) SinkCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sinksByID)
}
