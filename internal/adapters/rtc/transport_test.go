package rtc

import (
	"io"
	"testing"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eofSource ends immediately so the pump goroutine exits on its own.
type eofSource struct{}

func (eofSource) ReadRTP() (*rtp.Packet, error) { return nil, io.EOF }
func (eofSource) Close() error                  { return nil }

func TestPublishTrackReusesSender(t *testing.T) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	h := &handle{pc: pc}
	h.micEnabled.Store(true)
	defer h.Close()

	require.NoError(t, h.PublishTrack(eofSource{}))
	require.Len(t, pc.GetSenders(), 1)
	first := pc.GetSenders()[0]
	firstTrack := first.Track()

	// A device change republishes. The handle must swap the track on
	// the negotiated sender instead of piling up a second one that the
	// peer never answered.
	require.NoError(t, h.PublishTrack(eofSource{}))
	require.Len(t, pc.GetSenders(), 1)
	assert.Same(t, first, pc.GetSenders()[0])
	assert.NotSame(t, firstTrack, pc.GetSenders()[0].Track())
}

func TestPublishTrackRejectsNonRTPStream(t *testing.T) {
	h := &handle{}
	err := h.PublishTrack(plainStream{})
	assert.Error(t, err)
}

type plainStream struct{}

func (plainStream) Close() error { return nil }
