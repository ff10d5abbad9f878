// Package session drives the local media session: microphone capture,
// credential fetch, transport connect, and the playback sinks for
// remote participants. The transport itself is an external collaborator
// behind the Transport interface.
package session

import (
	"context"

	"github.com/solvspace/voiceroom/internal/domain"
)

// Credential is an opaque signed token scoped to one room and identity.
type Credential string

// AudioStream is a live microphone capture. Owned by the manager; the
// manager must Close() it on teardown or re-acquire.
type AudioStream interface {
	Close() error
}

// Microphone abstracts the platform audio input. Acquire prefers a
// device whose label matches hint when one is present, else the
// platform default.
type Microphone interface {
	Acquire(ctx context.Context, hint string) (AudioStream, error)
	// OnDeviceChange registers a callback for device-list changes.
	OnDeviceChange(fn func())
}

// RemoteTrack is a subscribed remote participant's audio.
type RemoteTrack interface {
	Identity() domain.UserID
}

// PlaybackSink plays one remote track. Created on track-subscribed,
// destroyed on track-unsubscribed; never shared across reconnects.
type PlaybackSink interface {
	SetMuted(muted bool)
	Close() error
}

type SinkFactory interface {
	NewSink(id domain.UserID, track RemoteTrack) (PlaybackSink, error)
}

// EventSink receives transport events, decoupled from any particular
// transport library's callback shape.
type EventSink interface {
	ParticipantJoined(id domain.UserID)
	ParticipantLeft(id domain.UserID)
	TrackSubscribed(id domain.UserID, track RemoteTrack)
	TrackUnsubscribed(id domain.UserID)
	ActiveSpeakersChanged(ids []domain.UserID)
}

// Handle is an established transport session.
type Handle interface {
	PublishTrack(stream AudioStream) error
	// SetMicEnabled toggles the outgoing track without renegotiating.
	SetMicEnabled(enabled bool) error
	Close() error
}

type Transport interface {
	Connect(ctx context.Context, url string, cred Credential, events EventSink) (Handle, error)
}

// CredentialSource fetches a join credential, normally from the token
// endpoint.
type CredentialSource interface {
	Fetch(ctx context.Context, room domain.RoomSlug, identity domain.UserID) (Credential, error)
}

// Leaver is notified best-effort on teardown so the membership row can
// be removed. Delivery is not guaranteed; the reaper covers the rest.
type Leaver interface {
	Leave(ctx context.Context, room domain.RoomSlug, identity domain.UserID) error
}
