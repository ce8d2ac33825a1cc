package pipeline

import (
	"reflect"
	"testing"
)

type recordingModule struct {
	Base
	outCmd [][]byte
}

func (m *recordingModule) OutCmd(data []byte) {
	m.outCmd = append(m.outCmd, data)
}

type recordingBuilder struct {
	built *recordingModule
}

func (b *recordingBuilder) Build(next Module) Module {
	b.built = &recordingModule{Base: Base{Next: next}}
	return b.built
}

type passthroughSink struct {
	inEvt  [][]byte
	outCmd [][]byte
}

func (s *passthroughSink) OutCmd(data []byte) { s.outCmd = append(s.outCmd, data) }
func (s *passthroughSink) OutAcl(data []byte) {}
func (s *passthroughSink) OutSco(data []byte) {}
func (s *passthroughSink) OutIso(data []byte) {}
func (s *passthroughSink) InEvt(data []byte)  { s.inEvt = append(s.inEvt, data) }
func (s *passthroughSink) InAcl(data []byte)  {}
func (s *passthroughSink) InSco(data []byte)  {}
func (s *passthroughSink) InIso(data []byte)  {}

func TestBuildFoldsTailToHead(t *testing.T) {
	sink := &passthroughSink{}
	b1, b2 := &recordingBuilder{}, &recordingBuilder{}
	head := Build([]Builder{b1, b2}, sink)

	if b1.built == nil || b2.built == nil {
		t.Fatalf("both builders must be invoked")
	}
	if head != Module(b1.built) {
		t.Errorf("head must be the first builder's module")
	}
	if b1.built.Next != Module(b2.built) {
		t.Errorf("first module's Next must be the second builder's module")
	}
	if b2.built.Next != Module(sink) {
		t.Errorf("second module's Next must be sink")
	}
}

func TestDefaultForwardingReachesSink(t *testing.T) {
	sink := &passthroughSink{}
	head := Build([]Builder{&recordingBuilder{}}, sink)

	head.InEvt([]byte{0x01})
	if !reflect.DeepEqual(sink.inEvt, [][]byte{{0x01}}) {
		t.Errorf("InEvt did not reach sink by default forwarding: %v", sink.inEvt)
	}
}

func TestOverriddenChannelDoesNotForward(t *testing.T) {
	sink := &passthroughSink{}
	b := &recordingBuilder{}
	head := Build([]Builder{b}, sink)

	head.OutCmd([]byte{0xaa})
	if !reflect.DeepEqual(b.built.outCmd, [][]byte{{0xaa}}) {
		t.Errorf("overridden OutCmd not recorded: %v", b.built.outCmd)
	}
	if len(sink.outCmd) != 0 {
		t.Errorf("overridden OutCmd was forwarded to sink: %v", sink.outCmd)
	}
}
