package hal

import (
	"sync"
	"testing"
	"time"

	"github.com/open-source-firmware/go-hci-offload-proxy/pkg/pipeline"
)

type fakeDriver struct {
	mu         sync.Mutex
	cb         DriverCallbacks
	initN      int
	closed     int
	clientDied int
	commands   [][]byte
}

func (d *fakeDriver) Initialize(cb DriverCallbacks) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.initN++
	d.cb = cb
}
func (d *fakeDriver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
}
func (d *fakeDriver) ClientDied() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clientDied++
}
func (d *fakeDriver) SendCommand(data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, data)
}
func (d *fakeDriver) SendAcl(data []byte) {}
func (d *fakeDriver) SendSco(data []byte) {}
func (d *fakeDriver) SendIso(data []byte) {}

func (d *fakeDriver) callback() DriverCallbacks {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cb
}

type fakeStack struct {
	mu     sync.Mutex
	status []Status
	events [][]byte
}

func (s *fakeStack) InitializationComplete(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = append(s.status, status)
}
func (s *fakeStack) HciEventReceived(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, data)
}
func (s *fakeStack) AclDataReceived(data []byte) {}
func (s *fakeStack) ScoDataReceived(data []byte) {}
func (s *fakeStack) IsoDataReceived(data []byte) {}

func (s *fakeStack) statuses() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Status(nil), s.status...)
}

func (s *fakeStack) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestInitializeThenSendReachesDriver(t *testing.T) {
	drv := &fakeDriver{}
	b := New(drv, nil)
	stack := &fakeStack{}

	b.Initialize(stack)
	if err := b.SendHciCommand([]byte{0x01}); err != nil {
		t.Fatalf("SendHciCommand: %v", err)
	}
	if len(drv.commands) != 1 {
		t.Fatalf("expected 1 command forwarded to driver, got %d", len(drv.commands))
	}
}

func TestSendBeforeInitializeReturnsIllegalState(t *testing.T) {
	drv := &fakeDriver{}
	b := New(drv, nil)

	if err := b.SendHciCommand([]byte{0x01}); err == nil {
		t.Fatal("expected error sending before Initialize")
	}
}

func TestReinitializeWhileOpenedReportsAlreadyInitializedWithoutDisturbingSession(t *testing.T) {
	drv := &fakeDriver{}
	b := New(drv, nil)
	first := &fakeStack{}
	second := &fakeStack{}

	b.Initialize(first)
	b.Initialize(second)

	if got := second.statuses(); len(got) != 1 || got[0] != StatusAlreadyInitialized {
		t.Fatalf("expected second callback to get ALREADY_INITIALIZED, got %v", got)
	}
	if err := b.SendHciCommand([]byte{0x02}); err != nil {
		t.Fatalf("first session should remain usable: %v", err)
	}
	if len(drv.commands) != 1 {
		t.Fatalf("expected only the first session's command, got %d", len(drv.commands))
	}
}

func TestDriverEventReceivedReachesStackThroughPipeline(t *testing.T) {
	drv := &fakeDriver{}
	b := New(drv, nil)
	stack := &fakeStack{}

	b.Initialize(stack)
	drv.callback().EventReceived([]byte{0x05, 0x04, 0x00, 0x60, 0x00, 0x16})
	if stack.eventCount() != 1 {
		t.Fatalf("expected event to reach stack, got %d", stack.eventCount())
	}
}

func TestDriverCallbacksDroppedAfterClose(t *testing.T) {
	drv := &fakeDriver{}
	b := New(drv, nil)
	stack := &fakeStack{}

	b.Initialize(stack)
	cb := drv.callback()
	b.Close()
	cb.EventReceived([]byte{0x05})

	if stack.eventCount() != 0 {
		t.Fatalf("expected event dropped after close, got %d delivered", stack.eventCount())
	}
}

func TestClientDiedNotifiesDriverAndClosesSession(t *testing.T) {
	drv := &fakeDriver{}
	b := New(drv, nil)
	stack := &fakeStack{}

	b.Initialize(stack)
	b.ClientDied(stack)

	deadline := time.After(time.Second)
	for {
		drv.mu.Lock()
		died := drv.clientDied
		drv.mu.Unlock()
		if died == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for death watch to notify driver")
		case <-time.After(time.Millisecond):
		}
	}

	drv.mu.Lock()
	closed := drv.closed
	drv.mu.Unlock()
	if closed != 0 {
		t.Fatalf("expected Close not to be called on client death, got %d calls", closed)
	}

	if err := b.SendHciCommand([]byte{0x01}); err == nil {
		t.Fatal("expected send after client death to fail")
	}
}

func TestEmptyBuildersProducesPassthroughSink(t *testing.T) {
	drv := &fakeDriver{}
	b := New(drv, []pipeline.Builder{})
	stack := &fakeStack{}

	b.Initialize(stack)
	if err := b.SendIsoData([]byte{0xaa}); err != nil {
		t.Fatalf("SendIsoData: %v", err)
	}
}
