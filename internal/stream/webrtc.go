package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/hdj/internal/audio"
)

// OpusBitrate is the WebRTC encode rate in bits per second.
const OpusBitrate = 128000

// WebRTCHandler answers SDP offers and streams the deck output to each peer
// as Opus.
type WebRTCHandler struct {
	frames *Broadcaster[[]int16]
	log    *zap.Logger

	mu    sync.Mutex
	peers map[uuid.UUID]*webrtc.PeerConnection
}

// NewWebRTCHandler creates a WebRTC stream handler.
func NewWebRTCHandler(frames *Broadcaster[[]int16], log *zap.Logger) *WebRTCHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebRTCHandler{
		frames: frames,
		log:    log.Named("webrtc"),
		peers:  make(map[uuid.UUID]*webrtc.PeerConnection),
	}
}

// PeerCount returns the number of connected peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	pc, track, err := answer(offer)
	if err != nil {
		h.log.Warn("negotiation failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := uuid.New()
	h.mu.Lock()
	h.peers[id] = pc
	h.mu.Unlock()
	log := h.log.With(zap.Stringer("peer", id))
	log.Info("peer connected", zap.Int("peers", h.PeerCount()))

	listener := h.frames.Subscribe()
	go h.streamTo(listener, track, log)

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
		default:
			return
		}
		h.frames.Unsubscribe(listener)
		if h.drop(id) {
			pc.Close()
			log.Info("peer disconnected", zap.String("state", s.String()), zap.Int("peers", h.PeerCount()))
		}
	})

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(pc.LocalDescription())
}

// answer builds a peer connection with one Opus track and completes ICE
// gathering, so the returned local description can be sent in one response.
func answer(offer webrtc.SessionDescription) (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, nil, fmt.Errorf("create peer connection: %w", err)
	}

	fail := func(step string, err error) (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
		pc.Close()
		return nil, nil, fmt.Errorf("%s: %w", step, err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"hdj",
	)
	if err != nil {
		return fail("create audio track", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		return fail("add track", err)
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return fail("set remote description", err)
	}
	desc, err := pc.CreateAnswer(nil)
	if err != nil {
		return fail("create answer", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(desc); err != nil {
		return fail("set local description", err)
	}
	<-gathered
	return pc, track, nil
}

func (h *WebRTCHandler) streamTo(listener *Listener[[]int16], track *webrtc.TrackLocalStaticSample, log *zap.Logger) {
	defer h.frames.Unsubscribe(listener)

	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		log.Error("opus encoder", zap.Error(err))
		return
	}
	if err := enc.SetBitrate(OpusBitrate); err != nil {
		log.Warn("opus bitrate", zap.Error(err))
	}

	packet := make([]byte, 4000)
	for {
		select {
		case <-listener.Done():
			return
		case frame := <-listener.C:
			n, err := enc.Encode(frame, packet)
			if err != nil {
				log.Warn("opus encode", zap.Error(err))
				continue
			}
			sample := media.Sample{Data: packet[:n], Duration: audio.FrameDuration}
			if err := track.WriteSample(sample); err != nil {
				return
			}
		}
	}
}

// drop reports whether the peer was still registered.
func (h *WebRTCHandler) drop(id uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.peers[id]; !ok {
		return false
	}
	delete(h.peers, id)
	return true
}
