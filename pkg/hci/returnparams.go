package hci

import (
	"fmt"

	"github.com/open-source-firmware/go-hci-offload-proxy/pkg/wire"
)

// ReturnParameters is the CommandComplete payload for a recognized command.
// Unlike Command, an unrecognized ReturnParameters is write-impossible: the
// controller is the only legitimate origin of a CommandComplete event, so a
// proxy that cannot interpret one has no business re-synthesizing it -
// EncodeReturnParameters panics on UnknownReturnParameters, matching the
// generated derive code's bare `panic!()` default write arm.
type ReturnParameters interface {
	OpCode() OpCode
}

// ResetComplete is Reset's ReturnParameters.
type ResetComplete struct {
	Status Status
}

func (ResetComplete) OpCode() OpCode { return OpCodeReset }

func readResetComplete(r *wire.Reader) (ResetComplete, error) {
	s, err := readStatus(r)
	return ResetComplete{Status: s}, err
}

func writeResetComplete(w *wire.Writer, p ResetComplete) {
	writeStatus(w, p.Status)
}

// LeReadBufferSizeV1Complete is LeReadBufferSizeV1's ReturnParameters.
type LeReadBufferSizeV1Complete struct {
	Status                       Status
	LeAclDataPacketLength        uint16
	TotalNumLeAclDataPackets     uint8
}

func (LeReadBufferSizeV1Complete) OpCode() OpCode { return OpCodeLeReadBufferSizeV1 }

func readLeReadBufferSizeV1Complete(r *wire.Reader) (LeReadBufferSizeV1Complete, error) {
	var p LeReadBufferSizeV1Complete
	var err error
	if p.Status, err = readStatus(r); err != nil {
		return p, err
	}
	if p.LeAclDataPacketLength, err = r.ReadU16(); err != nil {
		return p, err
	}
	p.TotalNumLeAclDataPackets, err = r.ReadU8()
	return p, err
}

func writeLeReadBufferSizeV1Complete(w *wire.Writer, p LeReadBufferSizeV1Complete) {
	writeStatus(w, p.Status)
	w.WriteU16(p.LeAclDataPacketLength)
	w.WriteU8(p.TotalNumLeAclDataPackets)
}

// LeReadBufferSizeV2Complete is LeReadBufferSizeV2's ReturnParameters. Its
// presence signals controller support for the ISO data path, which is the
// arbiter's creation trigger (spec.md §4.5).
type LeReadBufferSizeV2Complete struct {
	Status                       Status
	LeAclDataPacketLength        uint16
	TotalNumLeAclDataPackets     uint8
	IsoDataPacketLength          uint16
	TotalNumIsoDataPackets       uint8
}

func (LeReadBufferSizeV2Complete) OpCode() OpCode { return OpCodeLeReadBufferSizeV2 }

func readLeReadBufferSizeV2Complete(r *wire.Reader) (LeReadBufferSizeV2Complete, error) {
	var p LeReadBufferSizeV2Complete
	var err error
	if p.Status, err = readStatus(r); err != nil {
		return p, err
	}
	if p.LeAclDataPacketLength, err = r.ReadU16(); err != nil {
		return p, err
	}
	if p.TotalNumLeAclDataPackets, err = r.ReadU8(); err != nil {
		return p, err
	}
	if p.IsoDataPacketLength, err = r.ReadU16(); err != nil {
		return p, err
	}
	p.TotalNumIsoDataPackets, err = r.ReadU8()
	return p, err
}

func writeLeReadBufferSizeV2Complete(w *wire.Writer, p LeReadBufferSizeV2Complete) {
	writeStatus(w, p.Status)
	w.WriteU16(p.LeAclDataPacketLength)
	w.WriteU8(p.TotalNumLeAclDataPackets)
	w.WriteU16(p.IsoDataPacketLength)
	w.WriteU8(p.TotalNumIsoDataPackets)
}

// LeSetCigParametersComplete is LeSetCigParameters's ReturnParameters.
type LeSetCigParametersComplete struct {
	Status            Status
	CigID             uint8
	ConnectionHandles []uint16
}

func (LeSetCigParametersComplete) OpCode() OpCode { return OpCodeLeSetCigParameters }

func readLeSetCigParametersComplete(r *wire.Reader) (LeSetCigParametersComplete, error) {
	var p LeSetCigParametersComplete
	var err error
	if p.Status, err = readStatus(r); err != nil {
		return p, err
	}
	if p.CigID, err = r.ReadU8(); err != nil {
		return p, err
	}
	p.ConnectionHandles, err = wire.ReadSlice(r, (*wire.Reader).ReadU16)
	return p, err
}

func writeLeSetCigParametersComplete(w *wire.Writer, p LeSetCigParametersComplete) {
	writeStatus(w, p.Status)
	w.WriteU8(p.CigID)
	wire.WriteSlice(w, p.ConnectionHandles, (*wire.Writer).WriteU16)
}

// LeRemoveCigComplete is LeRemoveCig's ReturnParameters.
type LeRemoveCigComplete struct {
	Status Status
	CigID  uint8
}

func (LeRemoveCigComplete) OpCode() OpCode { return OpCodeLeRemoveCig }

func readLeRemoveCigComplete(r *wire.Reader) (LeRemoveCigComplete, error) {
	var p LeRemoveCigComplete
	var err error
	if p.Status, err = readStatus(r); err != nil {
		return p, err
	}
	p.CigID, err = r.ReadU8()
	return p, err
}

func writeLeRemoveCigComplete(w *wire.Writer, p LeRemoveCigComplete) {
	writeStatus(w, p.Status)
	w.WriteU8(p.CigID)
}

// LeIsoDataPathComplete is the shared ReturnParameters shape for both
// LeSetupIsoDataPath and LeRemoveIsoDataPath; opcodeHint distinguishes which
// command it completes since the two share an identical body layout.
type LeIsoDataPathComplete struct {
	opcodeHint       OpCode
	Status           Status
	ConnectionHandle uint16
}

func (p LeIsoDataPathComplete) OpCode() OpCode { return p.opcodeHint }

// NewLeSetupIsoDataPathComplete builds the ReturnParameters for a
// LeSetupIsoDataPath CommandComplete.
func NewLeSetupIsoDataPathComplete(status Status, connectionHandle uint16) LeIsoDataPathComplete {
	return LeIsoDataPathComplete{opcodeHint: OpCodeLeSetupIsoDataPath, Status: status, ConnectionHandle: connectionHandle}
}

// NewLeRemoveIsoDataPathComplete builds the ReturnParameters for a
// LeRemoveIsoDataPath CommandComplete.
func NewLeRemoveIsoDataPathComplete(status Status, connectionHandle uint16) LeIsoDataPathComplete {
	return LeIsoDataPathComplete{opcodeHint: OpCodeLeRemoveIsoDataPath, Status: status, ConnectionHandle: connectionHandle}
}

func readLeIsoDataPathComplete(r *wire.Reader, opcodeHint OpCode) (LeIsoDataPathComplete, error) {
	p := LeIsoDataPathComplete{opcodeHint: opcodeHint}
	var err error
	if p.Status, err = readStatus(r); err != nil {
		return p, err
	}
	p.ConnectionHandle, err = r.ReadU16()
	return p, err
}

func writeLeIsoDataPathComplete(w *wire.Writer, p LeIsoDataPathComplete) {
	writeStatus(w, p.Status)
	w.WriteU16(p.ConnectionHandle)
}

// UnknownReturnParameters carries the opcode of a CommandComplete whose
// ReturnParameters this package does not decode. It cannot be re-encoded.
type UnknownReturnParameters struct {
	Opcode OpCode
}

func (u UnknownReturnParameters) OpCode() OpCode { return u.Opcode }

// DecodeReturnParameters reads the 16-bit opcode prefix of a CommandComplete
// body and dispatches to the matching parameter decoder.
func DecodeReturnParameters(r *wire.Reader) (ReturnParameters, error) {
	opcode, err := readOpCode(r)
	if err != nil {
		return nil, fmt.Errorf("hci: decode return parameters header: %w", err)
	}

	switch opcode {
	case OpCodeReset:
		v, err := readResetComplete(r)
		if err != nil {
			return nil, fmt.Errorf("hci: decode ResetComplete: %w", err)
		}
		return v, nil
	case OpCodeLeReadBufferSizeV1:
		v, err := readLeReadBufferSizeV1Complete(r)
		if err != nil {
			return nil, fmt.Errorf("hci: decode LeReadBufferSizeV1Complete: %w", err)
		}
		return v, nil
	case OpCodeLeReadBufferSizeV2:
		v, err := readLeReadBufferSizeV2Complete(r)
		if err != nil {
			return nil, fmt.Errorf("hci: decode LeReadBufferSizeV2Complete: %w", err)
		}
		return v, nil
	case OpCodeLeSetCigParameters:
		v, err := readLeSetCigParametersComplete(r)
		if err != nil {
			return nil, fmt.Errorf("hci: decode LeSetCigParametersComplete: %w", err)
		}
		return v, nil
	case OpCodeLeRemoveCig:
		v, err := readLeRemoveCigComplete(r)
		if err != nil {
			return nil, fmt.Errorf("hci: decode LeRemoveCigComplete: %w", err)
		}
		return v, nil
	case OpCodeLeSetupIsoDataPath:
		v, err := readLeIsoDataPathComplete(r, OpCodeLeSetupIsoDataPath)
		if err != nil {
			return nil, fmt.Errorf("hci: decode LeSetupIsoDataPath return parameters: %w", err)
		}
		return v, nil
	case OpCodeLeRemoveIsoDataPath:
		v, err := readLeIsoDataPathComplete(r, OpCodeLeRemoveIsoDataPath)
		if err != nil {
			return nil, fmt.Errorf("hci: decode LeRemoveIsoDataPath return parameters: %w", err)
		}
		return v, nil
	default:
		return UnknownReturnParameters{Opcode: opcode}, nil
	}
}

// EncodeReturnParameters serializes p's opcode followed by its body. It
// panics if p is UnknownReturnParameters: the caller must not attempt to
// synthesize a CommandComplete for a command it never decoded.
func EncodeReturnParameters(w *wire.Writer, p ReturnParameters) {
	writeOpCode(w, p.OpCode())

	switch v := p.(type) {
	case ResetComplete:
		writeResetComplete(w, v)
	case LeReadBufferSizeV1Complete:
		writeLeReadBufferSizeV1Complete(w, v)
	case LeReadBufferSizeV2Complete:
		writeLeReadBufferSizeV2Complete(w, v)
	case LeSetCigParametersComplete:
		writeLeSetCigParametersComplete(w, v)
	case LeRemoveCigComplete:
		writeLeRemoveCigComplete(w, v)
	case LeIsoDataPathComplete:
		writeLeIsoDataPathComplete(w, v)
	case UnknownReturnParameters:
		panic("hci: EncodeReturnParameters: cannot serialize UnknownReturnParameters")
	default:
		panic(fmt.Sprintf("hci: EncodeReturnParameters: unhandled type %T", p))
	}
}
