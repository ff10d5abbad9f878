package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/solvspace/voiceroom/internal/domain"
)

type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Manager owns one client's media session lifecycle:
// Idle -> Connecting -> Active -> Disconnected. Any failed transition
// logs and leaves the prior state; the room stays usable without audio.
type Manager struct {
	mic       Microphone
	transport Transport
	creds     CredentialSource
	sinks     SinkFactory
	leaver    Leaver
	observer  EventSink

	room       domain.RoomSlug
	identity   domain.UserID
	url        string
	deviceHint string

	mu         sync.Mutex
	state      State
	starting   bool
	stream     AudioStream
	handle     Handle
	micMuted   bool
	localMuted map[domain.UserID]bool
	sinksByID  map[domain.UserID]PlaybackSink
}

type Options struct {
	Room       domain.RoomSlug
	Identity   domain.UserID
	URL        string
	DeviceHint string
	Microphone Microphone
	Transport  Transport
	Creds      CredentialSource
	Sinks      SinkFactory
	Leaver     Leaver
	// Observer receives the transport events after the manager has
	// applied its own sink bookkeeping. Optional.
	Observer EventSink
}

func NewManager(opts Options) *Manager {
	m := &Manager{
		mic:        opts.Microphone,
		transport:  opts.Transport,
		creds:      opts.Creds,
		sinks:      opts.Sinks,
		leaver:     opts.Leaver,
		observer:   opts.Observer,
		room:       opts.Room,
		identity:   opts.Identity,
		url:        opts.URL,
		deviceHint: opts.DeviceHint,
		state:      StateIdle,
		localMuted: make(map[domain.UserID]bool),
		sinksByID:  make(map[domain.UserID]PlaybackSink),
	}
	if m.mic != nil {
		m.mic.OnDeviceChange(func() { m.onDeviceChange(context.Background()) })
	}
	return m
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start walks the session to Active. Each failure is terminal for this
// attempt but not for the room: the state stays where it was and the
// caller may retry by calling Start again.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateIdle || m.starting {
		m.mu.Unlock()
		return nil
	}
	// Claim the attempt before dropping the lock, so a second Start
	// racing this one returns instead of acquiring a second mic and
	// publishing twice.
	m.starting = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.starting = false
		m.mu.Unlock()
	}()

	stream, err := m.mic.Acquire(ctx, m.deviceHint)
	if err != nil {
		log.Warn().Err(err).Str("module", "session").Str("room", string(m.room)).Msg("microphone denied, staying idle")
		return err
	}

	cred, err := m.creds.Fetch(ctx, m.room, m.identity)
	if err != nil {
		log.Warn().Err(err).Str("module", "session").Str("room", string(m.room)).Msg("credential fetch failed, staying idle")
		_ = stream.Close()
		return err
	}

	m.setState(StateConnecting)
	handle, err := m.transport.Connect(ctx, m.url, cred, m)
	if err != nil {
		log.Warn().Err(err).Str("module", "session").Str("room", string(m.room)).Msg("transport connect failed")
		_ = stream.Close()
		m.setState(StateIdle)
		return err
	}

	if err := handle.PublishTrack(stream); err != nil {
		log.Warn().Err(err).Str("module", "session").Str("room", string(m.room)).Msg("publish failed")
		_ = handle.Close()
		_ = stream.Close()
		m.setState(StateIdle)
		return err
	}

	m.mu.Lock()
	m.stream = stream
	m.handle = handle
	m.state = StateActive
	micMuted := m.micMuted
	m.mu.Unlock()

	if micMuted {
		_ = handle.SetMicEnabled(false)
	}
	log.Info().Str("module", "session").Str("room", string(m.room)).Str("identity", string(m.identity)).Msg("media session active")
	return nil
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// SetLocalMicMuted enables or disables the outgoing track. No
// renegotiation; safe to call in any state, the value is applied when
// the session reaches Active.
func (m *Manager) SetLocalMicMuted(muted bool) {
	m.mu.Lock()
	m.micMuted = muted
	handle := m.handle
	active := m.state == StateActive
	m.mu.Unlock()
	if active && handle != nil {
		if err := handle.SetMicEnabled(!muted); err != nil {
			log.Error().Err(err).Str("module", "session").Msg("set mic enabled")
		}
	}
}

// SetRemoteLocalMute silences (or restores) one remote participant's
// playback for this viewer only. Other clients' view of that
// participant's global mute flag is untouched.
func (m *Manager) SetRemoteLocalMute(id domain.UserID, muted bool) {
	m.mu.Lock()
	m.localMuted[id] = muted
	sink := m.sinksByID[id]
	m.mu.Unlock()
	if sink != nil {
		sink.SetMuted(muted)
	}
}

// Teardown disconnects the transport and, best-effort, removes this
// identity's membership row. Terminal: the manager does not restart.
func (m *Manager) Teardown(ctx context.Context) {
	m.mu.Lock()
	if m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}
	handle := m.handle
	stream := m.stream
	sinks := m.sinksByID
	m.handle = nil
	m.stream = nil
	m.sinksByID = make(map[domain.UserID]PlaybackSink)
	m.state = StateDisconnected
	m.mu.Unlock()

	for id, sink := range sinks {
		if err := sink.Close(); err != nil {
			log.Error().Err(err).Str("module", "session").Str("participant", string(id)).Msg("sink close")
		}
	}
	if handle != nil {
		if err := handle.Close(); err != nil {
			log.Error().Err(err).Str("module", "session").Msg("transport close")
		}
	}
	if stream != nil {
		_ = stream.Close()
	}
	if m.leaver != nil {
		if err := m.leaver.Leave(ctx, m.room, m.identity); err != nil {
			log.Warn().Err(err).Str("module", "session").Msg("best-effort leave failed, reaper will cover")
		}
	}
	log.Info().Str("module", "session").Str("room", string(m.room)).Msg("media session torn down")
}

// onDeviceChange re-acquires the microphone and republishes when the
// platform device list changes mid-session.
func (m *Manager) onDeviceChange(ctx context.Context) {
	m.mu.Lock()
	active := m.state == StateActive
	handle := m.handle
	old := m.stream
	m.mu.Unlock()
	if !active || handle == nil {
		return
	}

	stream, err := m.mic.Acquire(ctx, m.deviceHint)
	if err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("re-acquire after device change failed")
		return
	}
	if err := handle.PublishTrack(stream); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("republish after device change")
		_ = stream.Close()
		return
	}
	if old != nil {
		_ = old.Close()
	}
	m.mu.Lock()
	m.stream = stream
	m.mu.Unlock()
	log.Info().Str("module", "session").Msg("microphone re-acquired after device change")
}
