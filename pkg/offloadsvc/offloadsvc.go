// Package offloadsvc implements the offload IPC service: the external
// interface an offload audio client registers against to learn which
// streams are live and to push encoded audio packets into the arbiter.
//
// Grounded on original_source/offload/leaudio/hci/service.rs. The Rust
// service holds the arbiter behind a Weak so a torn-down pipeline doesn't
// keep it pinned; Go's garbage collector makes that concern moot here, so
// Reset simply replaces the pointer behind the service's mutex (see
// DESIGN.md's Open Question decision on weak-reference modeling).
package offloadsvc

import (
	"fmt"
	"log"
	"sync"

	"github.com/open-source-firmware/go-hci-offload-proxy/pkg/arbiter"
	"github.com/open-source-firmware/go-hci-offload-proxy/pkg/hci"
)

// StreamConfiguration describes one live ISO stream's timing and framing,
// handed to the offload client when a stream starts (spec.md §6).
type StreamConfiguration struct {
	IsoIntervalUs int32
	SduIntervalUs int32
	MaxSduSize    int32
	BurstNumber   int32
	FlushTimeout  int32
}

// Callbacks is the offload client's registered callback interface.
type Callbacks interface {
	StartStream(handle uint16, config StreamConfiguration)
	StopStream(handle uint16)
}

// Service is the offload IPC service: one per HAL binding, outliving any
// individual pipeline build or offload client registration.
type Service struct {
	mu        sync.Mutex
	arbiter   *arbiter.Arbiter
	callbacks Callbacks
	streams   map[uint16]StreamConfiguration
}

// New creates an empty Service with no arbiter and no registered client.
func New() *Service {
	return &Service{streams: make(map[uint16]StreamConfiguration)}
}

// Reset discards all tracked streams and attaches a, the arbiter backing
// the freshly (re)built pipeline. Called when the proxy state machine
// processes a successful Reset or a fresh LeReadBufferSizeV2Complete.
func (s *Service) Reset(a *arbiter.Arbiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arbiter = a
	s.streams = make(map[uint16]StreamConfiguration)
}

// StartStream records handle's configuration and, if a client is
// registered, notifies it immediately.
func (s *Service) StartStream(handle uint16, config StreamConfiguration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[handle] = config
	if s.callbacks != nil {
		s.callbacks.StartStream(handle, config)
	} else {
		log.Printf("offloadsvc: stream 0x%03x started without a registered client", handle)
	}
}

// StopStream drops handle's tracked configuration and, if a client is
// registered, notifies it.
func (s *Service) StopStream(handle uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, handle)
	if s.callbacks != nil {
		s.callbacks.StopStream(handle)
	}
}

// RegisterCallbacks attaches cb as the current offload client, replacing
// any previous registration, and replays every currently active stream to
// it so a newly (re)connected client catches up on live state.
func (s *Service) RegisterCallbacks(cb Callbacks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = cb
	for handle, config := range s.streams {
		cb.StartStream(handle, config)
	}
}

// ClientDied clears the registered client, matching a lost IPC death watch.
func (s *Service) ClientDied() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = nil
}

// ErrBadHandle is returned by SendPacket when handle or sequenceNumber fall
// outside the range the HCI ISO Data wire format allows: 12 bits for the
// connection handle, 16 bits for the sequence number.
var ErrBadHandle = fmt.Errorf("offloadsvc: handle or sequence number out of range")

// SendPacket accepts one complete SDU of audio from the offload client and
// pushes it onto the arbiter's Audio queue, at Audio's strict priority over
// host-originated traffic. If the arbiter isn't attached (no pipeline built
// yet, or since the last Reset), the packet is dropped with a log line —
// never blocked on or queued indefinitely.
func (s *Service) SendPacket(handle, sequenceNumber int32, payload []byte) error {
	if handle < 0 || handle > 0x0fff || sequenceNumber < 0 || sequenceNumber > 0xffff {
		return ErrBadHandle
	}

	s.mu.Lock()
	a := s.arbiter
	s.mu.Unlock()

	if a == nil {
		log.Printf("offloadsvc: dropping packet for handle 0x%03x received in bad state", handle)
		return nil
	}
	a.PushAudio(hci.NewIsoData(uint16(handle), uint16(sequenceNumber), payload))
	return nil
}
