// Package arbiter multiplexes ISO data from two software origins — offload
// audio and traffic passed through from the host stack — onto a single
// controller-facing sink, enforcing strict audio-over-incoming priority and
// a shared in-transit credit bound fed by NumberOfCompletedPackets.
//
// Grounded on original_source/offload/leaudio/hci/arbiter.rs: a
// mutex+condvar guarded queue pair serviced by a dedicated sender goroutine,
// ported from Arc<Mutex<_>>/Condvar to Go's sync.Mutex/sync.Cond.
package arbiter

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/open-source-firmware/go-hci-offload-proxy/pkg/hci"
	"github.com/open-source-firmware/go-hci-offload-proxy/pkg/pipeline"
)

// origin identifies which software queue a packet was pushed onto. Audio
// is index 0 and is drained before Incoming, giving it strict priority.
type origin int

const (
	originAudio origin = iota
	originIncoming
	numOrigins
)

type queuedPacket struct {
	handle uint16
	data   []byte
}

// Arbiter owns a bounded pair of FIFOs and a dedicated sender goroutine that
// drains them onto sink, subject to a shared in-transit credit bound.
type Arbiter struct {
	sink       pipeline.Module
	maxBufLen  int
	maxBufCnt  int

	mu        sync.Mutex
	cond      *sync.Cond
	halt      bool
	queues    [numOrigins][]queuedPacket
	inTransit map[uint16]int
	done      chan struct{}

	sent prometheus.Counter
}

// New creates an Arbiter forwarding to sink. maxBufLen bounds the payload
// size of any single pushed packet (plus HCI ISO Data framing overhead);
// maxBufCnt bounds the total number of packets in flight across all
// connections at once, matching the controller's advertised buffer count.
func New(sink pipeline.Module, maxBufLen, maxBufCnt int) *Arbiter {
	a := &Arbiter{
		sink:      sink,
		maxBufLen: maxBufLen,
		maxBufCnt: maxBufCnt,
		inTransit: make(map[uint16]int),
		done:      make(chan struct{}),
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hci_offload_arbiter_packets_sent_total",
			Help: "Total number of ISO data packets forwarded to the controller.",
		}),
	}
	a.cond = sync.NewCond(&a.mu)
	go a.senderLoop()
	return a
}

// MaxBufLen reports the configured per-packet payload bound.
func (a *Arbiter) MaxBufLen() int { return a.maxBufLen }

// AddConnection starts credit tracking for handle. It panics if handle is
// already tracked, mirroring the Rust source's assertion that a CIS/BIS
// handle is never attached twice without an intervening RemoveConnection.
func (a *Arbiter) AddConnection(handle uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.inTransit[handle]; ok {
		panic(fmt.Sprintf("arbiter: connection with handle 0x%03x already exists", handle))
	}
	a.inTransit[handle] = 0
}

// RemoveConnection stops credit tracking for handle and drops any of its
// packets still queued (not yet sent).
func (a *Arbiter) RemoveConnection(handle uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.queues {
		kept := a.queues[i][:0]
		for _, p := range a.queues[i] {
			if p.handle != handle {
				kept = append(kept, p)
			}
		}
		a.queues[i] = kept
	}
	if _, ok := a.inTransit[handle]; ok {
		delete(a.inTransit, handle)
		a.cond.Signal()
	}
}

// PushIncoming enqueues data received from the host stack, to be forwarded
// to the controller at Incoming priority.
func (a *Arbiter) PushIncoming(data hci.IsoData) {
	a.push(originIncoming, data)
}

// PushAudio enqueues data synthesized by the offload audio path, to be
// forwarded to the controller at Audio (highest) priority.
func (a *Arbiter) PushAudio(data hci.IsoData) {
	a.push(originAudio, data)
}

func (a *Arbiter) push(o origin, data hci.IsoData) {
	encoded := data.Encode()
	if len(encoded) > a.maxBufLen+4 {
		panic(fmt.Sprintf("arbiter: packet of %d bytes exceeds max_buf_len+4 (%d)", len(encoded), a.maxBufLen+4))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.inTransit[data.ConnectionHandle]; !ok {
		return
	}
	a.queues[o] = append(a.queues[o], queuedPacket{handle: data.ConnectionHandle, data: encoded})
	a.cond.Signal()
}

// SetCompleted credits num packets back for handle, in response to a
// NumberOfCompletedPackets event. It saturates at zero rather than
// underflowing, since the controller is assumed not to over-credit but a
// defensive bound costs nothing (spec.md §4.6).
func (a *Arbiter) SetCompleted(handle uint16, num int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if usage, ok := a.inTransit[handle]; ok {
		usage -= num
		if usage < 0 {
			usage = 0
		}
		a.inTransit[handle] = usage
		a.cond.Signal()
	}
}

// Close halts the sender goroutine and waits for it to exit.
func (a *Arbiter) Close() {
	a.mu.Lock()
	a.halt = true
	a.cond.Signal()
	a.mu.Unlock()
	<-a.done
}

func (a *Arbiter) senderLoop() {
	defer close(a.done)
	for {
		packet, ok := a.nextPacket()
		if !ok {
			return
		}
		a.sink.OutIso(packet)
		a.sent.Inc()
	}
}

// nextPacket blocks until a packet is eligible to send or the arbiter is
// halted. The mutex is released (via sink.OutIso being called outside the
// lock) before forwarding downstream, per spec.md §5's concurrency model.
func (a *Arbiter) nextPacket() ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for {
		if a.halt {
			return nil, false
		}
		if packet, ok := a.pullLocked(); ok {
			return packet, true
		}
		a.cond.Wait()
	}
}

func (a *Arbiter) pullLocked() ([]byte, bool) {
	total := 0
	for _, n := range a.inTransit {
		total += n
	}
	if total >= a.maxBufCnt {
		return nil, false
	}
	for o := range a.queues {
		if len(a.queues[o]) == 0 {
			continue
		}
		p := a.queues[o][0]
		a.queues[o] = a.queues[o][1:]
		a.inTransit[p.handle]++
		return p.data, true
	}
	return nil, false
}

// Describe implements prometheus.Collector.
func (a *Arbiter) Describe(ch chan<- *prometheus.Desc) {
	ch <- creditDesc
	ch <- queueDepthDesc
	a.sent.Describe(ch)
}

// Collect implements prometheus.Collector, exposing per-handle in-transit
// credit usage and per-origin queue depth alongside the cumulative sent
// counter.
func (a *Arbiter) Collect(ch chan<- prometheus.Metric) {
	a.mu.Lock()
	inTransit := make(map[uint16]int, len(a.inTransit))
	for h, n := range a.inTransit {
		inTransit[h] = n
	}
	depths := [numOrigins]int{}
	for o := range a.queues {
		depths[o] = len(a.queues[o])
	}
	a.mu.Unlock()

	for h, n := range inTransit {
		ch <- prometheus.MustNewConstMetric(creditDesc, prometheus.GaugeValue, float64(n), fmt.Sprintf("0x%03x", h))
	}
	ch <- prometheus.MustNewConstMetric(queueDepthDesc, prometheus.GaugeValue, float64(depths[originAudio]), "audio")
	ch <- prometheus.MustNewConstMetric(queueDepthDesc, prometheus.GaugeValue, float64(depths[originIncoming]), "incoming")
	a.sent.Collect(ch)
}

var (
	creditDesc = prometheus.NewDesc(
		"hci_offload_arbiter_in_transit_packets",
		"Number of ISO data packets sent to the controller and not yet acknowledged, by connection handle.",
		[]string{"handle"}, nil,
	)
	queueDepthDesc = prometheus.NewDesc(
		"hci_offload_arbiter_queue_depth",
		"Number of packets currently queued in software, by origin.",
		[]string{"origin"}, nil,
	)
)
