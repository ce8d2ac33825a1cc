// Package leaudio implements the LE Audio offload proxy module: the pipeline
// link that watches HCI traffic pass by, tracks CIG/CIS and BIG/BIS
// lifecycle, creates the arbiter once the controller's ISO buffer size is
// known, and rewrites NumberOfCompletedPackets to hide offloaded streams
// from the host stack.
//
// Grounded on original_source/offload/leaudio/hci/proxy.rs, translated from
// a single Arc<Mutex<State>>-guarded trait object into a pipeline.Module
// embedding pipeline.Base for its unmodified channels.
package leaudio

import (
	"fmt"
	"log"
	"sync"

	"github.com/open-source-firmware/go-hci-offload-proxy/pkg/arbiter"
	"github.com/open-source-firmware/go-hci-offload-proxy/pkg/hci"
	"github.com/open-source-firmware/go-hci-offload-proxy/pkg/offloadsvc"
	"github.com/open-source-firmware/go-hci-offload-proxy/pkg/pipeline"
)

// SoftwareOffloadDataPathID is the vendor-assigned ISO data path ID this
// proxy claims as its own in LeSetupIsoDataPath; any other data path ID
// passes through untouched (DESIGN.md Open Question decision #1).
const SoftwareOffloadDataPathID = 0x19

type streamState int

const (
	streamDisabled streamState = iota
	streamEnabling
	streamEnabled
)

// isoDirection carries one direction's ISO framing parameters, used to
// build the StreamConfiguration handed to the offload client.
type isoDirection struct {
	sduIntervalUs uint32
	maxSduSize    uint16
	burstNumber   uint8
	flushTimeout  uint8
}

type stream struct {
	state       streamState
	isoIntervalUs uint32
	centralToPeripheral isoDirection
}

type cigParameters struct {
	cisHandles      []uint16
	wantCisCount    int
	sduIntervalCToP uint32
	sduIntervalPToC uint32
}

type bigParameters struct {
	bisHandles  []uint16
	sduInterval uint32
}

// Module is the LE Audio offload proxy pipeline link.
type Module struct {
	pipeline.Base
	svc *offloadsvc.Service

	mu      sync.Mutex
	big     map[uint8]*bigParameters
	cig     map[uint8]*cigParameters
	stream  map[uint16]*stream
	arbiter *arbiter.Arbiter
}

// Builder constructs Modules bound to svc, for use with pipeline.Build.
type Builder struct {
	Service *offloadsvc.Service
}

func (b Builder) Build(next pipeline.Module) pipeline.Module {
	return newModule(next, b.Service)
}

func newModule(next pipeline.Module, svc *offloadsvc.Service) *Module {
	return &Module{
		Base:   pipeline.Base{Next: next},
		svc:    svc,
		big:    make(map[uint8]*bigParameters),
		cig:    make(map[uint8]*cigParameters),
		stream: make(map[uint16]*stream),
	}
}

// Arbiter returns the currently attached arbiter, or nil if none has been
// created yet (no successful LeReadBufferSizeV2 has completed since the
// last Reset). Exposed for tests and diagnostics.
func (m *Module) Arbiter() *arbiter.Arbiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arbiter
}

// OutCmd inspects outgoing commands to seed CIG/BIG bookkeeping and to mark
// a stream Enabling when the host requests this proxy's own data path,
// then forwards — rewritten, for a software-offload data path request,
// to carry data-path id 0 (pure HCI) as a first-phase shim until the
// controller supports the offload path id natively (spec.md §4.5).
func (m *Module) OutCmd(data []byte) {
	cmd, err := hci.DecodeCommand(data)
	if err != nil {
		m.Next.OutCmd(data)
		return
	}
	if rewritten, ok := m.observeOutCmd(cmd); ok {
		m.Next.OutCmd(hci.EncodeCommand(rewritten))
		return
	}
	m.Next.OutCmd(data)
}

// observeOutCmd updates proxy state for cmd and, for a software-offload
// LeSetupIsoDataPath, returns the rewritten command to forward in place of
// the original.
func (m *Module) observeOutCmd(cmd hci.Command) (hci.Command, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch c := cmd.(type) {
	case hci.LeSetCigParameters:
		m.cig[c.CigID] = &cigParameters{
			wantCisCount:    len(c.Cis),
			sduIntervalCToP: c.SduIntervalCToP,
			sduIntervalPToC: c.SduIntervalPToC,
		}

	case hci.LeCreateBig:
		m.big[c.BigHandle] = &bigParameters{sduInterval: c.SduInterval}

	case hci.LeSetupIsoDataPath:
		if c.DataPathID != SoftwareOffloadDataPathID {
			return nil, false
		}
		if c.DataPathDirection != hci.LeDataPathInput {
			panic("leaudio: software offload data path requested for output direction")
		}
		s, ok := m.stream[c.ConnectionHandle]
		if !ok {
			panic(fmt.Sprintf("leaudio: LeSetupIsoDataPath for untracked handle 0x%03x", c.ConnectionHandle))
		}
		s.state = streamEnabling
		c.DataPathID = 0
		return c, true
	}
	return nil, false
}

// InEvt inspects incoming events to drive the state machine, then forwards
// — except for NumberOfCompletedPackets, which it rewrites or suppresses
// entirely rather than forwarding unchanged.
func (m *Module) InEvt(data []byte) {
	evt, err := hci.DecodeEvent(data)
	if err != nil {
		log.Printf("leaudio: malformed event: %v", err)
		m.Next.InEvt(data)
		return
	}

	if np, ok := evt.(hci.NumberOfCompletedPackets); ok {
		m.handleNumberOfCompletedPackets(np)
		return
	}

	m.observeInEvt(evt)
	m.Next.InEvt(data)
}

func (m *Module) observeInEvt(evt hci.Event) {
	switch e := evt.(type) {
	case hci.CommandComplete:
		m.handleCommandComplete(e)
	case hci.LeCisEstablished:
		if e.Status == hci.StatusSuccess {
			m.handleLeCisEstablished(e)
		}
	case hci.DisconnectionComplete:
		if e.Status == hci.StatusSuccess {
			m.handleDisconnectionComplete(e)
		}
	case hci.LeCreateBigComplete:
		if e.Status == hci.StatusSuccess {
			m.handleLeCreateBigComplete(e)
		}
	case hci.LeTerminateBigComplete:
		m.handleLeTerminateBigComplete(e)
	}
}

func (m *Module) handleCommandComplete(e hci.CommandComplete) {
	switch ret := e.ReturnParameters.(type) {
	case hci.ResetComplete:
		if ret.Status != hci.StatusSuccess {
			return
		}
		m.mu.Lock()
		old := m.arbiter
		m.big = make(map[uint8]*bigParameters)
		m.cig = make(map[uint8]*cigParameters)
		m.stream = make(map[uint16]*stream)
		m.arbiter = nil
		m.mu.Unlock()
		// The old arbiter, if any, is now unreachable from this module;
		// halting it here stands in for the Rust source's Arc<Arbiter>
		// drop once the last strong reference disappears (the service's
		// own reference was always a Weak there, so it never kept the old
		// arbiter alive past this point either).
		if old != nil {
			old.Close()
		}
		// The service drops its reference as well, so SendPacket logs and
		// drops until the next LeReadBufferSizeV2Complete attaches a fresh
		// arbiter.
		m.svc.Reset(nil)

	case hci.LeReadBufferSizeV2Complete:
		if ret.Status != hci.StatusSuccess {
			return
		}
		a := arbiter.New(m.Next, int(ret.IsoDataPacketLength), int(ret.TotalNumIsoDataPackets))
		m.mu.Lock()
		m.arbiter = a
		m.mu.Unlock()
		m.svc.Reset(a)

	case hci.LeSetCigParametersComplete:
		if ret.Status != hci.StatusSuccess {
			return
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		cig, ok := m.cig[ret.CigID]
		if !ok {
			panic(fmt.Sprintf("leaudio: LeSetCigParametersComplete for untracked CIG %d", ret.CigID))
		}
		if len(ret.ConnectionHandles) != cig.wantCisCount {
			panic(fmt.Sprintf("leaudio: LeSetCigParametersComplete for CIG %d returned %d CIS handles, want %d",
				ret.CigID, len(ret.ConnectionHandles), cig.wantCisCount))
		}
		cig.cisHandles = ret.ConnectionHandles

	case hci.LeRemoveCigComplete:
		if ret.Status != hci.StatusSuccess {
			return
		}
		m.mu.Lock()
		delete(m.cig, ret.CigID)
		m.mu.Unlock()

	case hci.LeIsoDataPathComplete:
		if ret.OpCode() == hci.OpCodeLeSetupIsoDataPath {
			m.handleSetupIsoDataPathComplete(ret)
		} else {
			m.handleRemoveIsoDataPathComplete(ret)
		}
	}
}

func (m *Module) handleSetupIsoDataPathComplete(ret hci.LeIsoDataPathComplete) {
	m.mu.Lock()
	s, ok := m.stream[ret.ConnectionHandle]
	if !ok {
		panic(fmt.Sprintf("leaudio: LeSetupIsoDataPathComplete for untracked handle 0x%03x", ret.ConnectionHandle))
	}
	if s.state == streamEnabling && ret.Status == hci.StatusSuccess {
		s.state = streamEnabled
	} else {
		s.state = streamDisabled
	}
	if s.state != streamEnabled {
		m.mu.Unlock()
		return
	}
	handle := ret.ConnectionHandle
	config := offloadsvc.StreamConfiguration{
		IsoIntervalUs: int32(s.isoIntervalUs),
		SduIntervalUs: int32(s.centralToPeripheral.sduIntervalUs),
		MaxSduSize:    int32(s.centralToPeripheral.maxSduSize),
		BurstNumber:   int32(s.centralToPeripheral.burstNumber),
		FlushTimeout:  int32(s.centralToPeripheral.flushTimeout),
	}
	m.mu.Unlock()

	m.svc.StartStream(handle, config)
}

func (m *Module) handleRemoveIsoDataPathComplete(ret hci.LeIsoDataPathComplete) {
	m.mu.Lock()
	s, ok := m.stream[ret.ConnectionHandle]
	if !ok {
		panic(fmt.Sprintf("leaudio: LeRemoveIsoDataPathComplete for untracked handle 0x%03x", ret.ConnectionHandle))
	}
	wasEnabled := s.state == streamEnabled
	s.state = streamDisabled
	m.mu.Unlock()

	if wasEnabled {
		m.svc.StopStream(ret.ConnectionHandle)
	}
}

// isoInterval125Us converts the HCI ISO_Interval field (units of 1.25ms) to
// microseconds.
func isoInterval125Us(isoInterval uint16) uint32 {
	return uint32(isoInterval) * 1250
}

func (m *Module) handleLeCisEstablished(e hci.LeCisEstablished) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var owner *cigParameters
	for _, cig := range m.cig {
		for _, h := range cig.cisHandles {
			if h == e.ConnectionHandle {
				owner = cig
				break
			}
		}
		if owner != nil {
			break
		}
	}
	if owner == nil {
		panic(fmt.Sprintf("leaudio: CIG not set up for CIS 0x%03x", e.ConnectionHandle))
	}

	isoIntervalUs := isoInterval125Us(e.IsoInterval)
	assertFramingSupported(owner.sduIntervalCToP, isoIntervalUs, uint32(e.BnCToP))
	assertFramingSupported(owner.sduIntervalPToC, isoIntervalUs, uint32(e.BnPToC))

	s := &stream{
		state:         streamDisabled,
		isoIntervalUs: isoIntervalUs,
		centralToPeripheral: isoDirection{
			sduIntervalUs: owner.sduIntervalCToP,
			maxSduSize:    e.MaxPduCToP,
			burstNumber:   e.BnCToP,
			flushTimeout:  e.FtCToP,
		},
	}

	_, existed := m.stream[e.ConnectionHandle]
	m.stream[e.ConnectionHandle] = s
	if existed {
		log.Printf("leaudio: CIS 0x%03x already established", e.ConnectionHandle)
	} else {
		m.arbiter.AddConnection(e.ConnectionHandle)
	}
}

func (m *Module) handleLeCreateBigComplete(e hci.LeCreateBigComplete) {
	m.mu.Lock()
	defer m.mu.Unlock()

	big, ok := m.big[e.BigHandle]
	if !ok {
		panic(fmt.Sprintf("leaudio: BIG not set up for handle %d", e.BigHandle))
	}
	big.bisHandles = e.BisHandles

	isoIntervalUs := isoInterval125Us(e.IsoInterval)
	assertFramingSupported(big.sduInterval, isoIntervalUs, uint32(e.Bn))

	s := &stream{
		state:         streamDisabled,
		isoIntervalUs: isoIntervalUs,
		centralToPeripheral: isoDirection{
			sduIntervalUs: big.sduInterval,
			maxSduSize:    e.MaxPdu,
			burstNumber:   e.Bn,
			flushTimeout:  e.Irc,
		},
	}

	for _, h := range big.bisHandles {
		_, existed := m.stream[h]
		m.stream[h] = s
		if existed {
			log.Printf("leaudio: BIS 0x%03x already established", h)
		} else {
			m.arbiter.AddConnection(h)
		}
	}
}

func (m *Module) handleLeTerminateBigComplete(e hci.LeTerminateBigComplete) {
	m.mu.Lock()
	defer m.mu.Unlock()

	big, ok := m.big[e.BigHandle]
	if !ok {
		panic(fmt.Sprintf("leaudio: LeTerminateBigComplete for untracked BIG %d", e.BigHandle))
	}
	delete(m.big, e.BigHandle)
	for _, h := range big.bisHandles {
		delete(m.stream, h)
		m.arbiter.RemoveConnection(h)
	}
}

func (m *Module) handleDisconnectionComplete(e hci.DisconnectionComplete) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stream[e.ConnectionHandle]; ok {
		delete(m.stream, e.ConnectionHandle)
		m.arbiter.RemoveConnection(e.ConnectionHandle)
	}
}

// assertFramingSupported panics if the controller's reported burst number
// implies unsupported framing mode or SDU fragmentation — this proxy only
// supports unframed PDUs carrying exactly one SDU per burst interval.
func assertFramingSupported(sduIntervalUs, isoIntervalUs, bn uint32) {
	if sduIntervalUs == 0 {
		return
	}
	if isoIntervalUs%sduIntervalUs != 0 {
		panic("leaudio: framing mode not supported")
	}
	if isoIntervalUs/sduIntervalUs != bn {
		panic("leaudio: SDU fragmentation not supported")
	}
}

// handleNumberOfCompletedPackets credits the arbiter for every handle
// first, then splits the handle list: entries belonging to an Enabled
// offloaded stream are dropped (the arbiter already knows about them, and
// the host stack must never see credit for a connection it doesn't own);
// everything else is forwarded as a freshly rewritten event, suppressed
// entirely if nothing remains (spec.md §9 decision: credit-then-rewrite).
func (m *Module) handleNumberOfCompletedPackets(e hci.NumberOfCompletedPackets) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.arbiter
	if a == nil {
		m.Next.InEvt(hci.EncodeEvent(e))
		return
	}

	forwarded := make([]hci.NumberOfCompletedPacketsHandle, 0, len(e.Handles))
	for _, h := range e.Handles {
		a.SetCompleted(h.ConnectionHandle, int(h.NumCompletedPackets))

		s, tracked := m.stream[h.ConnectionHandle]
		if tracked && s.state == streamEnabled {
			continue
		}
		forwarded = append(forwarded, h)
	}

	if len(forwarded) == 0 {
		return
	}
	// Forwarding while still holding m.mu preserves ordering between this
	// rewritten event and any concurrent state transition (spec.md §5).
	m.Next.InEvt(hci.EncodeEvent(hci.NumberOfCompletedPackets{Handles: forwarded}))
}

// OutIso pushes host-originated ISO data onto the arbiter's Incoming queue
// rather than forwarding it directly; the arbiter's sender goroutine is
// what ultimately calls Next.OutIso.
func (m *Module) OutIso(data []byte) {
	pkt, err := hci.DecodeIsoData(data)
	if err != nil {
		log.Printf("leaudio: malformed outgoing iso data: %v", err)
		return
	}
	m.mu.Lock()
	a := m.arbiter
	m.mu.Unlock()
	if a == nil {
		log.Printf("leaudio: outgoing iso data before arbiter exists, dropping")
		return
	}
	a.PushIncoming(pkt)
}
