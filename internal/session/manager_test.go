package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solvspace/voiceroom/internal/domain"
)

type fakeStream struct{ closed bool }

func (f *fakeStream) Close() error { f.closed = true; return nil }

type fakeMic struct {
	err      error
	stream   *fakeStream
	onChange func()
	acquires int
}

func (f *fakeMic) Acquire(ctx context.Context, hint string) (AudioStream, error) {
	f.acquires++
	if f.err != nil {
		return nil, f.err
	}
	f.stream = &fakeStream{}
	return f.stream, nil
}

func (f *fakeMic) OnDeviceChange(fn func()) { f.onChange = fn }

type fakeCreds struct {
	err error
}

func (f *fakeCreds) Fetch(ctx context.Context, room domain.RoomSlug, identity domain.UserID) (Credential, error) {
	if f.err != nil {
		return "", f.err
	}
	return "cred", nil
}

type fakeHandle struct {
	mu         sync.Mutex
	published  int
	micEnabled bool
	closed     bool
}

func (f *fakeHandle) PublishTrack(AudioStream) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published++
	return nil
}

func (f *fakeHandle) SetMicEnabled(enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.micEnabled = enabled
	return nil
}

func (f *fakeHandle) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeTransport struct {
	err    error
	handle *fakeHandle
	events EventSink
}

func (f *fakeTransport) Connect(ctx context.Context, url string, cred Credential, events EventSink) (Handle, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.handle = &fakeHandle{micEnabled: true}
	f.events = events
	return f.handle, nil
}

type fakeSink struct {
	muted  bool
	closed bool
}

func (f *fakeSink) SetMuted(m bool) { f.muted = m }
func (f *fakeSink) Close() error    { f.closed = true; return nil }

type fakeSinks struct {
	byID map[domain.UserID]*fakeSink
	err  error
}

func (f *fakeSinks) NewSink(id domain.UserID, track RemoteTrack) (PlaybackSink, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.byID == nil {
		f.byID = make(map[domain.UserID]*fakeSink)
	}
	s := &fakeSink{}
	f.byID[id] = s
	return s, nil
}

type fakeLeaver struct {
	calls int
	err   error
}

func (f *fakeLeaver) Leave(ctx context.Context, room domain.RoomSlug, identity domain.UserID) error {
	f.calls++
	return f.err
}

type testTrack struct{ id domain.UserID }

func (t *testTrack) Identity() domain.UserID { return t.id }

func newTestManager(mic *fakeMic, tr *fakeTransport, creds *fakeCreds, sinks *fakeSinks, leaver *fakeLeaver) *Manager {
	return NewManager(Options{
		Room:       "abc",
		Identity:   "me",
		URL:        "https://transport.test",
		Microphone: mic,
		Transport:  tr,
		Creds:      creds,
		Sinks:      sinks,
		Leaver:     leaver,
	})
}

func TestStartReachesActive(t *testing.T) {
	mic, tr := &fakeMic{}, &fakeTransport{}
	m := newTestManager(mic, tr, &fakeCreds{}, &fakeSinks{}, &fakeLeaver{})

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, StateActive, m.State())
	assert.Equal(t, 1, tr.handle.published)
}

type blockingCreds struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingCreds) Fetch(ctx context.Context, room domain.RoomSlug, identity domain.UserID) (Credential, error) {
	close(b.entered)
	<-b.release
	return "cred", nil
}

func TestStartWhileStartInFlightIsNoOp(t *testing.T) {
	mic, tr := &fakeMic{}, &fakeTransport{}
	creds := &blockingCreds{entered: make(chan struct{}), release: make(chan struct{})}
	m := newTestManager(mic, tr, nil, &fakeSinks{}, &fakeLeaver{})
	m.creds = creds

	done := make(chan error, 1)
	go func() { done <- m.Start(context.Background()) }()
	<-creds.entered

	// The first attempt holds the session; a second Start arriving
	// before it finishes must not acquire a second mic or publish a
	// second track.
	require.NoError(t, m.Start(context.Background()))
	close(creds.release)
	require.NoError(t, <-done)

	assert.Equal(t, StateActive, m.State())
	assert.Equal(t, 1, mic.acquires)
	assert.Equal(t, 1, tr.handle.published)
}

func TestPermissionDeniedStaysIdle(t *testing.T) {
	mic := &fakeMic{err: errors.New("permission denied")}
	m := newTestManager(mic, &fakeTransport{}, &fakeCreds{}, &fakeSinks{}, &fakeLeaver{})

	assert.Error(t, m.Start(context.Background()))
	assert.Equal(t, StateIdle, m.State(), "degraded mode, not fatal")
}

func TestCredentialFailureStaysIdle(t *testing.T) {
	mic := &fakeMic{}
	m := newTestManager(mic, &fakeTransport{}, &fakeCreds{err: errors.New("issuer unreachable")}, &fakeSinks{}, &fakeLeaver{})

	assert.Error(t, m.Start(context.Background()))
	assert.Equal(t, StateIdle, m.State())
	assert.True(t, mic.stream.closed, "failed start must release the microphone")
}

func TestConnectFailureReturnsToIdle(t *testing.T) {
	m := newTestManager(&fakeMic{}, &fakeTransport{err: errors.New("connect refused")}, &fakeCreds{}, &fakeSinks{}, &fakeLeaver{})

	assert.Error(t, m.Start(context.Background()))
	assert.Equal(t, StateIdle, m.State())
}

func TestTrackSubscribedAppliesLocalMuteAtAttach(t *testing.T) {
	tr, sinks := &fakeTransport{}, &fakeSinks{}
	m := newTestManager(&fakeMic{}, tr, &fakeCreds{}, sinks, &fakeLeaver{})
	require.NoError(t, m.Start(context.Background()))

	// Silence u2 before its track ever arrives.
	m.SetRemoteLocalMute("u2", true)

	tr.events.TrackSubscribed("u2", &testTrack{id: "u2"})
	tr.events.TrackSubscribed("u3", &testTrack{id: "u3"})

	assert.True(t, sinks.byID["u2"].muted, "local-mute decision applies at attach time")
	assert.False(t, sinks.byID["u3"].muted)
	assert.Equal(t, 2, m.SinkCount())

	tr.events.TrackUnsubscribed("u2")
	assert.True(t, sinks.byID["u2"].closed)
	assert.Equal(t, 1, m.SinkCount())
}

func TestSetRemoteLocalMuteAdjustsAttachedSink(t *testing.T) {
	tr, sinks := &fakeTransport{}, &fakeSinks{}
	m := newTestManager(&fakeMic{}, tr, &fakeCreds{}, sinks, &fakeLeaver{})
	require.NoError(t, m.Start(context.Background()))

	tr.events.TrackSubscribed("u2", &testTrack{id: "u2"})
	m.SetRemoteLocalMute("u2", true)
	assert.True(t, sinks.byID["u2"].muted)
	m.SetRemoteLocalMute("u2", false)
	assert.False(t, sinks.byID["u2"].muted)
}

func TestSetLocalMicMutedTogglesTrack(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(&fakeMic{}, tr, &fakeCreds{}, &fakeSinks{}, &fakeLeaver{})
	require.NoError(t, m.Start(context.Background()))

	m.SetLocalMicMuted(true)
	assert.False(t, tr.handle.micEnabled)
	m.SetLocalMicMuted(false)
	assert.True(t, tr.handle.micEnabled)
}

func TestMicMutedBeforeStartAppliesOnActive(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(&fakeMic{}, tr, &fakeCreds{}, &fakeSinks{}, &fakeLeaver{})

	m.SetLocalMicMuted(true)
	require.NoError(t, m.Start(context.Background()))
	assert.False(t, tr.handle.micEnabled)
}

func TestTeardownIsTerminalAndNotifiesLeave(t *testing.T) {
	tr, sinks, leaver := &fakeTransport{}, &fakeSinks{}, &fakeLeaver{}
	mic := &fakeMic{}
	m := newTestManager(mic, tr, &fakeCreds{}, sinks, leaver)
	require.NoError(t, m.Start(context.Background()))
	tr.events.TrackSubscribed("u2", &testTrack{id: "u2"})

	m.Teardown(context.Background())
	assert.Equal(t, StateDisconnected, m.State())
	assert.True(t, tr.handle.closed)
	assert.True(t, mic.stream.closed)
	assert.True(t, sinks.byID["u2"].closed)
	assert.Equal(t, 1, leaver.calls)

	m.Teardown(context.Background())
	assert.Equal(t, 1, leaver.calls, "teardown is idempotent")
}

func TestTeardownSurvivesLostBeacon(t *testing.T) {
	leaver := &fakeLeaver{err: errors.New("beacon lost")}
	m := newTestManager(&fakeMic{}, &fakeTransport{}, &fakeCreds{}, &fakeSinks{}, leaver)
	require.NoError(t, m.Start(context.Background()))

	// Best-effort: a failed leave is logged, never escalated.
	m.Teardown(context.Background())
	assert.Equal(t, StateDisconnected, m.State())
}

func TestDeviceChangeReacquiresWhileActive(t *testing.T) {
	mic, tr := &fakeMic{}, &fakeTransport{}
	m := newTestManager(mic, tr, &fakeCreds{}, &fakeSinks{}, &fakeLeaver{})
	require.NoError(t, m.Start(context.Background()))
	require.Equal(t, 1, mic.acquires)

	mic.onChange()
	assert.Equal(t, 2, mic.acquires)
	assert.Equal(t, 2, tr.handle.published, "new capture is republished")
	assert.Equal(t, StateActive, m.State())
}

func TestDeviceChangeIgnoredWhenIdle(t *testing.T) {
	mic := &fakeMic{}
	m := newTestManager(mic, &fakeTransport{}, &fakeCreds{}, &fakeSinks{}, &fakeLeaver{})

	mic.onChange()
	assert.Equal(t, 0, mic.acquires)
	assert.Equal(t, StateIdle, m.State())
}
