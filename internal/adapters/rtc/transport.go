// Package rtc implements session.Transport over a pion peer
// connection. Signaling is a single offer/answer exchange with the
// media server's connect endpoint, authorized by the join credential.
package rtc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/solvspace/voiceroom/internal/domain"
	"github.com/solvspace/voiceroom/internal/session"
)

// RTPSource is the capture side the transport can actually publish:
// an AudioStream that yields RTP packets.
type RTPSource interface {
	session.AudioStream
	ReadRTP() (*rtp.Packet, error)
}

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

type Transport struct {
	cfg    webrtc.Configuration
	client *http.Client
}

func NewTransport(cfg webrtc.Configuration) *Transport {
	return &Transport{cfg: cfg, client: http.DefaultClient}
}

type connectRequest struct {
	SDP string `json:"sdp"`
}

type connectResponse struct {
	SDP string `json:"sdp"`
}

func (t *Transport) Connect(ctx context.Context, url string, cred session.Credential, events session.EventSink) (session.Handle, error) {
	pc, err := webrtc.NewPeerConnection(t.cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	h := &handle{pc: pc, events: events}
	h.micEnabled.Store(true)

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer_connection_state", s.String()).Msg("peer state")
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		id := domain.UserID(track.StreamID())
		log.Info().
			Str("module", "rtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("remote track")
		events.ParticipantJoined(id)
		events.TrackSubscribed(id, &remoteTrack{id: id})
		go h.drain(id, track)
	})

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	}); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("add transceiver: %w", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("set local description: %w", err)
	}
	<-gatherComplete

	answer, err := t.exchange(ctx, url, cred, pc.LocalDescription().SDP)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("set remote description: %w", err)
	}

	return h, nil
}

func (t *Transport) exchange(ctx context.Context, url string, cred session.Credential, sdp string) (string, error) {
	body, err := json.Marshal(connectRequest{SDP: sdp})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/rtc/connect", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+string(cred))

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("signal exchange: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("signal exchange: status %d: %s", resp.StatusCode, raw)
	}
	var out connectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode answer: %w", err)
	}
	return out.SDP, nil
}

type remoteTrack struct {
	id domain.UserID
}

func (r *remoteTrack) Identity() domain.UserID { return r.id }

type handle struct {
	pc         *webrtc.PeerConnection
	events     session.EventSink
	micEnabled atomic.Bool

	mu     sync.Mutex
	sender *webrtc.RTPSender
	cancel context.CancelFunc
}

// PublishTrack sends the capture stream to the peer. The first call
// attaches a sender; later calls (a device change mid-session) swap
// the track on that same sender, which needs no renegotiation.
func (h *handle) PublishTrack(stream session.AudioStream) error {
	src, ok := stream.(RTPSource)
	if !ok {
		return errors.New("stream does not expose RTP packets")
	}
	local, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "mic",
	)
	if err != nil {
		return fmt.Errorf("new local track: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.mu.Lock()
	if h.sender == nil {
		sender, err := h.pc.AddTrack(local)
		if err != nil {
			h.mu.Unlock()
			cancel()
			return fmt.Errorf("add track: %w", err)
		}
		h.sender = sender
	} else {
		if err := h.sender.ReplaceTrack(local); err != nil {
			h.mu.Unlock()
			cancel()
			return fmt.Errorf("replace track: %w", err)
		}
	}
	if h.cancel != nil {
		h.cancel()
	}
	h.cancel = cancel
	h.mu.Unlock()

	go h.pump(ctx, src, local)
	return nil
}

// pump copies RTP from the capture source into the published track.
// A disabled mic drops packets instead of renegotiating.
func (h *handle) pump(ctx context.Context, src RTPSource, local *webrtc.TrackLocalStaticRTP) {
	for {
		if ctx.Err() != nil {
			return
		}
		pkt, err := src.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Error().Err(err).Str("module", "rtc").Msg("read capture")
			}
			return
		}
		if !h.micEnabled.Load() {
			continue
		}
		if err := local.WriteRTP(pkt); err != nil {
			log.Error().Err(err).Str("module", "rtc").Msg("write track")
			return
		}
	}
}

// drain consumes a remote track until it ends, then reports the
// detach and departure.
func (h *handle) drain(id domain.UserID, track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			h.events.TrackUnsubscribed(id)
			h.events.ParticipantLeft(id)
			return
		}
	}
}

func (h *handle) SetMicEnabled(enabled bool) error {
	h.micEnabled.Store(enabled)
	return nil
}

func (h *handle) Close() error {
	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	h.mu.Unlock()
	return h.pc.Close()
}
