// Package hci implements a bit-exact codec for the subset of Bluetooth HCI
// commands, events, and ISO Data packets an LE Audio offload proxy needs to
// understand: parse(serialize(p)) == p and serialize(parse(b)) == b for every
// recognized packet.
package hci

import "github.com/open-source-firmware/go-hci-offload-proxy/pkg/wire"

// OpCode identifies an HCI command: a 10-bit OCF (Opcode Command Field) in
// the low bits and a 6-bit OGF (Opcode Group Field) in the high bits.
type OpCode uint16

// NewOpCode packs an OGF/OCF pair into the wire's single 16-bit opcode.
func NewOpCode(ogf, ocf uint16) OpCode {
	return OpCode(wire.PackU16(
		wire.BitField{Value: uint32(ocf), Width: 10},
		wire.BitField{Value: uint32(ogf), Width: 6},
	))
}

// OGF reports the opcode's 6-bit group field.
func (o OpCode) OGF() uint16 {
	return wire.UnpackU16(uint16(o), 10, 6)[1]
}

// OCF reports the opcode's 10-bit command field.
func (o OpCode) OCF() uint16 {
	return wire.UnpackU16(uint16(o), 10, 6)[0]
}

// Recognized command opcodes, OGF 0x03 (Host Controller & Baseband) and
// OGF 0x08 (LE Controller).
var (
	OpCodeReset                 = NewOpCode(0x03, 0x003)
	OpCodeLeReadBufferSizeV1    = NewOpCode(0x08, 0x002)
	OpCodeLeReadBufferSizeV2    = NewOpCode(0x08, 0x060)
	OpCodeLeSetCigParameters    = NewOpCode(0x08, 0x062)
	OpCodeLeCreateCis           = NewOpCode(0x08, 0x064)
	OpCodeLeRemoveCig           = NewOpCode(0x08, 0x065)
	OpCodeLeCreateBig           = NewOpCode(0x08, 0x068)
	OpCodeLeSetupIsoDataPath    = NewOpCode(0x08, 0x06e)
	OpCodeLeRemoveIsoDataPath   = NewOpCode(0x08, 0x06f)
)

func readOpCode(r *wire.Reader) (OpCode, error) {
	v, err := r.ReadU16()
	return OpCode(v), err
}

func writeOpCode(w *wire.Writer, o OpCode) {
	w.WriteU16(uint16(o))
}
