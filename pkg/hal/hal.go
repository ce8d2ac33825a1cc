// Package hal binds the pipeline built from registered module builders to
// the Bluetooth HCI HAL driver underneath it: a thin lifecycle shim that
// mirrors the original C FFI / AIDL boundary (original_source/offload/hal)
// as three small Go interfaces (Driver, DriverCallbacks, StackCallbacks)
// instead of a raw function-pointer table.
package hal

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/davecgh/go-spew/spew"

	"github.com/open-source-firmware/go-hci-offload-proxy/pkg/pipeline"
)

// ErrIllegalState is returned by the Send* methods when the binding is not
// currently Opened. Close on a binding that is not Opened is a no-op.
var ErrIllegalState = errors.New("hal: binding is not open")

// Driver is the external, replaceable backend this package drives: the
// native HCI controller interface. Initialize must call back exactly once
// on DriverCallbacks.InitializationComplete before delivering any data
// callback.
type Driver interface {
	Initialize(callbacks DriverCallbacks)
	Close()
	ClientDied()
	SendCommand(data []byte)
	SendAcl(data []byte)
	SendSco(data []byte)
	SendIso(data []byte)
}

// DriverCallbacks is implemented by the binding and handed to the Driver at
// Initialize time; the driver calls back into it from its own goroutine(s).
type DriverCallbacks interface {
	InitializationComplete(status Status)
	EventReceived(data []byte)
	AclReceived(data []byte)
	ScoReceived(data []byte)
	IsoReceived(data []byte)
}

// StackCallbacks is implemented by the upstream Bluetooth stack and
// registered with Binding.Initialize; the pipeline's sink module delivers
// incoming traffic to it.
type StackCallbacks interface {
	InitializationComplete(status Status)
	HciEventReceived(data []byte)
	AclDataReceived(data []byte)
	ScoDataReceived(data []byte)
	IsoDataReceived(data []byte)
}

// sinkModule is the fixed terminal link of every pipeline this binding
// builds: outgoing traffic reaches the driver here, incoming traffic
// reaches the stack here. It holds no Next and does not embed pipeline.Base,
// since it is the end of the chain in both directions.
type sinkModule struct {
	driver universal
	stack  StackCallbacks
}

// universal is the subset of Driver the sink forwards outgoing traffic to.
type universal interface {
	SendCommand(data []byte)
	SendAcl(data []byte)
	SendSco(data []byte)
	SendIso(data []byte)
}

func (s sinkModule) OutCmd(data []byte) { s.driver.SendCommand(data) }
func (s sinkModule) OutAcl(data []byte) { s.driver.SendAcl(data) }
func (s sinkModule) OutSco(data []byte) { s.driver.SendSco(data) }
func (s sinkModule) OutIso(data []byte) { s.driver.SendIso(data) }

func (s sinkModule) InEvt(data []byte) { s.stack.HciEventReceived(data) }
func (s sinkModule) InAcl(data []byte) { s.stack.AclDataReceived(data) }
func (s sinkModule) InSco(data []byte) { s.stack.ScoDataReceived(data) }
func (s sinkModule) InIso(data []byte) { s.stack.IsoDataReceived(data) }

// state is the binding's lifecycle. Closed holds nothing; Opened holds the
// assembled pipeline and the death-watch channel registered for this
// session's stack client.
type state struct {
	opened     bool
	proxy      pipeline.Module
	deathWatch chan struct{}
}

// Binding owns the single native driver and mediates between it and
// whichever stack client currently holds the session, serializing
// Initialize/Close/death-watch transitions through one mutex (spec: "proxy
// state, arbiter state, and the HAL binding are three separate mutex
// domains"). Data delivery checks the session state under that mutex and
// then calls into the pipeline after releasing it.
type Binding struct {
	driver   Driver
	builders []pipeline.Builder

	mu sync.Mutex
	st state
}

// New creates a Binding over driver, wrapping every pipeline it opens with
// builders, folded tail to head around the binding's own sink.
func New(driver Driver, builders []pipeline.Builder) *Binding {
	return &Binding{driver: driver, builders: builders}
}

// Initialize opens a session for callbacks. If a session is already open,
// it reports ALREADY_INITIALIZED to the *new* callbacks without disturbing
// the existing one (original_source/offload/hal/service.rs: initialize()).
func (b *Binding) Initialize(callbacks StackCallbacks) {
	b.mu.Lock()
	if b.st.opened {
		b.mu.Unlock()
		callbacks.InitializationComplete(StatusAlreadyInitialized)
		return
	}

	sink := sinkModule{driver: b.driver, stack: callbacks}
	proxy := pipeline.Build(b.builders, sink)
	deathWatch := make(chan struct{})
	b.st = state{opened: true, proxy: proxy, deathWatch: deathWatch}
	b.mu.Unlock()

	go b.watchDeath(deathWatch, callbacks)

	b.driver.Initialize(&driverCallbacks{binding: b, proxy: proxy, stack: callbacks, deathWatch: deathWatch})
}

// watchDeath closes the session if the stack client dies without an
// explicit Close, synthesizing the client_died transition. The stack
// signals death by calling ClientDied, which closes deathWatch.
func (b *Binding) watchDeath(deathWatch chan struct{}, callbacks StackCallbacks) {
	<-deathWatch
	b.mu.Lock()
	if b.st.opened && b.st.deathWatch == deathWatch {
		log.Printf("hal: stack client died, closing session")
		b.st = state{}
		b.driver.ClientDied()
	}
	b.mu.Unlock()
}

// ClientDied tells the binding its current stack client is gone. It is a
// no-op if the caller's session has already been superseded or closed.
func (b *Binding) ClientDied(callbacks StackCallbacks) {
	b.mu.Lock()
	dw := b.st.deathWatch
	b.mu.Unlock()
	if dw != nil {
		select {
		case <-dw:
		default:
			close(dw)
		}
	}
}

// Close tears down the current session, if any.
func (b *Binding) Close() {
	b.mu.Lock()
	if !b.st.opened {
		b.mu.Unlock()
		return
	}
	b.st = state{}
	b.mu.Unlock()
	b.driver.Close()
}

func (b *Binding) proxyOrErr() (pipeline.Module, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.st.opened {
		return nil, ErrIllegalState
	}
	return b.st.proxy, nil
}

func (b *Binding) SendHciCommand(data []byte) error {
	p, err := b.proxyOrErr()
	if err != nil {
		return fmt.Errorf("hal: send hci command: %w", err)
	}
	p.OutCmd(data)
	return nil
}

func (b *Binding) SendAclData(data []byte) error {
	p, err := b.proxyOrErr()
	if err != nil {
		return fmt.Errorf("hal: send acl data: %w", err)
	}
	p.OutAcl(data)
	return nil
}

func (b *Binding) SendScoData(data []byte) error {
	p, err := b.proxyOrErr()
	if err != nil {
		return fmt.Errorf("hal: send sco data: %w", err)
	}
	p.OutSco(data)
	return nil
}

func (b *Binding) SendIsoData(data []byte) error {
	p, err := b.proxyOrErr()
	if err != nil {
		return fmt.Errorf("hal: send iso data: %w", err)
	}
	p.OutIso(data)
	return nil
}

// driverCallbacks adapts the driver's raw data callbacks onto the pipeline
// built for this session, and onto the stack's InitializationComplete. It
// is captured by the Driver at Initialize time and outlives any later
// session, so InitializationComplete and the data callbacks compare against
// the binding's current state before delivering anything (a driver that
// calls back after Close is dropped and logged, not forwarded).
type driverCallbacks struct {
	binding    *Binding
	proxy      pipeline.Module
	stack      StackCallbacks
	deathWatch chan struct{}
}

func (c *driverCallbacks) current() bool {
	c.binding.mu.Lock()
	defer c.binding.mu.Unlock()
	return c.binding.st.opened && c.binding.st.deathWatch == c.deathWatch
}

func (c *driverCallbacks) InitializationComplete(status Status) {
	c.binding.mu.Lock()
	current := c.binding.st.opened && c.binding.st.deathWatch == c.deathWatch
	if current && status != StatusSuccess {
		c.binding.st = state{}
	}
	c.binding.mu.Unlock()
	if !current {
		log.Printf("hal: dropping initialization complete (%v) received on a superseded session", status)
		return
	}
	c.stack.InitializationComplete(status)
}

func (c *driverCallbacks) EventReceived(data []byte) {
	if !c.current() {
		log.Printf("hal: dropping event received on a superseded session: %s", spew.Sdump(data))
		return
	}
	c.proxy.InEvt(data)
}

func (c *driverCallbacks) AclReceived(data []byte) {
	if !c.current() {
		log.Printf("hal: dropping acl received on a superseded session: %s", spew.Sdump(data))
		return
	}
	c.proxy.InAcl(data)
}

func (c *driverCallbacks) ScoReceived(data []byte) {
	if !c.current() {
		log.Printf("hal: dropping sco received on a superseded session: %s", spew.Sdump(data))
		return
	}
	c.proxy.InSco(data)
}

func (c *driverCallbacks) IsoReceived(data []byte) {
	if !c.current() {
		log.Printf("hal: dropping iso received on a superseded session: %s", spew.Sdump(data))
		return
	}
	c.proxy.InIso(data)
}
