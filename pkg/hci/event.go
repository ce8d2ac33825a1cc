package hci

import (
	"fmt"

	"github.com/open-source-firmware/go-hci-offload-proxy/pkg/wire"
)

// Event is any recognized HCI event packet.
type Event interface {
	Code() Code
}

// DisconnectionComplete is the Disconnection Complete event, code 0x05.
type DisconnectionComplete struct {
	Status           Status
	ConnectionHandle uint16
	Reason           uint8
}

func (DisconnectionComplete) Code() Code { return CodeDisconnectionComplete }

func readDisconnectionComplete(r *wire.Reader) (DisconnectionComplete, error) {
	var e DisconnectionComplete
	var err error
	if e.Status, err = readStatus(r); err != nil {
		return e, err
	}
	if e.ConnectionHandle, err = r.ReadU16(); err != nil {
		return e, err
	}
	e.Reason, err = r.ReadU8()
	return e, err
}

func writeDisconnectionComplete(w *wire.Writer, e DisconnectionComplete) {
	writeStatus(w, e.Status)
	w.WriteU16(e.ConnectionHandle)
	w.WriteU8(e.Reason)
}

// CommandComplete is the Command Complete event, code 0x0e. Its
// ReturnParameters decoding is opcode-keyed, independent of this event's own
// code.
type CommandComplete struct {
	NumHciCommandPackets uint8
	ReturnParameters     ReturnParameters
}

func (CommandComplete) Code() Code { return CodeCommandComplete }

func readCommandComplete(r *wire.Reader) (CommandComplete, error) {
	var e CommandComplete
	var err error
	if e.NumHciCommandPackets, err = r.ReadU8(); err != nil {
		return e, err
	}
	e.ReturnParameters, err = DecodeReturnParameters(r)
	return e, err
}

func writeCommandComplete(w *wire.Writer, e CommandComplete) {
	w.WriteU8(e.NumHciCommandPackets)
	EncodeReturnParameters(w, e.ReturnParameters)
}

// CommandStatus is the Command Status event, code 0x0f.
type CommandStatus struct {
	Status               Status
	NumHciCommandPackets uint8
	Opcode               OpCode
}

func (CommandStatus) Code() Code { return CodeCommandStatus }

func readCommandStatus(r *wire.Reader) (CommandStatus, error) {
	var e CommandStatus
	var err error
	if e.Status, err = readStatus(r); err != nil {
		return e, err
	}
	if e.NumHciCommandPackets, err = r.ReadU8(); err != nil {
		return e, err
	}
	e.Opcode, err = readOpCode(r)
	return e, err
}

func writeCommandStatus(w *wire.Writer, e CommandStatus) {
	writeStatus(w, e.Status)
	w.WriteU8(e.NumHciCommandPackets)
	writeOpCode(w, e.Opcode)
}

// NumberOfCompletedPacketsHandle is one handle/count pair within a Number Of
// Completed Packets event.
type NumberOfCompletedPacketsHandle struct {
	ConnectionHandle    uint16
	NumCompletedPackets uint16
}

func readNumberOfCompletedPacketsHandle(r *wire.Reader) (NumberOfCompletedPacketsHandle, error) {
	var h NumberOfCompletedPacketsHandle
	var err error
	if h.ConnectionHandle, err = r.ReadU16(); err != nil {
		return h, err
	}
	h.NumCompletedPackets, err = r.ReadU16()
	return h, err
}

func writeNumberOfCompletedPacketsHandle(w *wire.Writer, h NumberOfCompletedPacketsHandle) {
	w.WriteU16(h.ConnectionHandle)
	w.WriteU16(h.NumCompletedPackets)
}

// NumberOfCompletedPackets is the Number Of Completed Packets event, code
// 0x13 — the controller's credit-return mechanism the arbiter consumes to
// track in-flight ISO packets (spec.md §4.6).
type NumberOfCompletedPackets struct {
	Handles []NumberOfCompletedPacketsHandle
}

func (NumberOfCompletedPackets) Code() Code { return CodeNumberOfCompletedPackets }

func readNumberOfCompletedPackets(r *wire.Reader) (NumberOfCompletedPackets, error) {
	handles, err := wire.ReadSlice(r, readNumberOfCompletedPacketsHandle)
	return NumberOfCompletedPackets{Handles: handles}, err
}

func writeNumberOfCompletedPackets(w *wire.Writer, e NumberOfCompletedPackets) {
	wire.WriteSlice(w, e.Handles, writeNumberOfCompletedPacketsHandle)
}

// LeCisEstablished is the LE CIS Established subevent, code 0x3e/0x19.
type LeCisEstablished struct {
	Status                  Status
	ConnectionHandle        uint16
	CigSyncDelay            uint32 // 3-byte wire field
	CisSyncDelay            uint32 // 3-byte wire field
	TransportLatencyCToP    uint32 // 3-byte wire field
	TransportLatencyPToC    uint32 // 3-byte wire field
	PhyCToP                 uint8
	PhyPToC                 uint8
	Nse                     uint8
	BnCToP                  uint8
	BnPToC                  uint8
	FtCToP                  uint8
	FtPToC                  uint8
	MaxPduCToP              uint16
	MaxPduPToC              uint16
	IsoInterval             uint16
}

func (LeCisEstablished) Code() Code { return CodeLeCisEstablished }

func readLeCisEstablished(r *wire.Reader) (LeCisEstablished, error) {
	var e LeCisEstablished
	var err error
	if e.Status, err = readStatus(r); err != nil {
		return e, err
	}
	if e.ConnectionHandle, err = r.ReadU16(); err != nil {
		return e, err
	}
	if e.CigSyncDelay, err = r.ReadU24(); err != nil {
		return e, err
	}
	if e.CisSyncDelay, err = r.ReadU24(); err != nil {
		return e, err
	}
	if e.TransportLatencyCToP, err = r.ReadU24(); err != nil {
		return e, err
	}
	if e.TransportLatencyPToC, err = r.ReadU24(); err != nil {
		return e, err
	}
	if e.PhyCToP, err = r.ReadU8(); err != nil {
		return e, err
	}
	if e.PhyPToC, err = r.ReadU8(); err != nil {
		return e, err
	}
	if e.Nse, err = r.ReadU8(); err != nil {
		return e, err
	}
	if e.BnCToP, err = r.ReadU8(); err != nil {
		return e, err
	}
	if e.BnPToC, err = r.ReadU8(); err != nil {
		return e, err
	}
	if e.FtCToP, err = r.ReadU8(); err != nil {
		return e, err
	}
	if e.FtPToC, err = r.ReadU8(); err != nil {
		return e, err
	}
	if e.MaxPduCToP, err = r.ReadU16(); err != nil {
		return e, err
	}
	if e.MaxPduPToC, err = r.ReadU16(); err != nil {
		return e, err
	}
	e.IsoInterval, err = r.ReadU16()
	return e, err
}

func writeLeCisEstablished(w *wire.Writer, e LeCisEstablished) {
	writeStatus(w, e.Status)
	w.WriteU16(e.ConnectionHandle)
	w.WriteU24(e.CigSyncDelay)
	w.WriteU24(e.CisSyncDelay)
	w.WriteU24(e.TransportLatencyCToP)
	w.WriteU24(e.TransportLatencyPToC)
	w.WriteU8(e.PhyCToP)
	w.WriteU8(e.PhyPToC)
	w.WriteU8(e.Nse)
	w.WriteU8(e.BnCToP)
	w.WriteU8(e.BnPToC)
	w.WriteU8(e.FtCToP)
	w.WriteU8(e.FtPToC)
	w.WriteU16(e.MaxPduCToP)
	w.WriteU16(e.MaxPduPToC)
	w.WriteU16(e.IsoInterval)
}

// LeCreateBigComplete is the LE Create BIG Complete subevent, code 0x3e/0x1b.
type LeCreateBigComplete struct {
	Status               Status
	BigHandle            uint8
	BigSyncDelay         uint32 // 3-byte wire field
	BigTransportLatency  uint32 // 3-byte wire field
	Phy                  uint8
	Nse                  uint8
	Bn                   uint8
	Pto                  uint8
	Irc                  uint8
	MaxPdu               uint16
	IsoInterval          uint16
	BisHandles           []uint16
}

func (LeCreateBigComplete) Code() Code { return CodeLeCreateBigComplete }

func readLeCreateBigComplete(r *wire.Reader) (LeCreateBigComplete, error) {
	var e LeCreateBigComplete
	var err error
	if e.Status, err = readStatus(r); err != nil {
		return e, err
	}
	if e.BigHandle, err = r.ReadU8(); err != nil {
		return e, err
	}
	if e.BigSyncDelay, err = r.ReadU24(); err != nil {
		return e, err
	}
	if e.BigTransportLatency, err = r.ReadU24(); err != nil {
		return e, err
	}
	if e.Phy, err = r.ReadU8(); err != nil {
		return e, err
	}
	if e.Nse, err = r.ReadU8(); err != nil {
		return e, err
	}
	if e.Bn, err = r.ReadU8(); err != nil {
		return e, err
	}
	if e.Pto, err = r.ReadU8(); err != nil {
		return e, err
	}
	if e.Irc, err = r.ReadU8(); err != nil {
		return e, err
	}
	if e.MaxPdu, err = r.ReadU16(); err != nil {
		return e, err
	}
	if e.IsoInterval, err = r.ReadU16(); err != nil {
		return e, err
	}
	e.BisHandles, err = wire.ReadSlice(r, (*wire.Reader).ReadU16)
	return e, err
}

func writeLeCreateBigComplete(w *wire.Writer, e LeCreateBigComplete) {
	writeStatus(w, e.Status)
	w.WriteU8(e.BigHandle)
	w.WriteU24(e.BigSyncDelay)
	w.WriteU24(e.BigTransportLatency)
	w.WriteU8(e.Phy)
	w.WriteU8(e.Nse)
	w.WriteU8(e.Bn)
	w.WriteU8(e.Pto)
	w.WriteU8(e.Irc)
	w.WriteU16(e.MaxPdu)
	w.WriteU16(e.IsoInterval)
	wire.WriteSlice(w, e.BisHandles, (*wire.Writer).WriteU16)
}

// LeTerminateBigComplete is the LE Terminate BIG Complete subevent, code
// 0x3e/0x1c. Unlike the other LE-Meta subevents here, it carries no Status
// field.
type LeTerminateBigComplete struct {
	BigHandle uint8
	Reason    uint8
}

func (LeTerminateBigComplete) Code() Code { return CodeLeTerminateBigComplete }

func readLeTerminateBigComplete(r *wire.Reader) (LeTerminateBigComplete, error) {
	var e LeTerminateBigComplete
	var err error
	if e.BigHandle, err = r.ReadU8(); err != nil {
		return e, err
	}
	e.Reason, err = r.ReadU8()
	return e, err
}

func writeLeTerminateBigComplete(w *wire.Writer, e LeTerminateBigComplete) {
	w.WriteU8(e.BigHandle)
	w.WriteU8(e.Reason)
}

// UnknownEvent carries any event whose code this package does not recognize.
// Like UnknownCommand (and unlike UnknownReturnParameters), it remains
// re-encodable for passthrough.
type UnknownEvent struct {
	EventCode Code
	Params    []byte
}

func (u UnknownEvent) Code() Code { return u.EventCode }

// DecodeEvent parses one HCI event packet: a 1-byte primary code, a 1-byte
// length, an optional LE-Meta subcode, then the body.
func DecodeEvent(b []byte) (Event, error) {
	r := wire.NewReader(b)
	primary, err := r.ReadU8()
	if err != nil {
		return nil, fmt.Errorf("hci: decode event header: %w", err)
	}
	n, err := r.ReadU8()
	if err != nil {
		return nil, fmt.Errorf("hci: decode event header: %w", err)
	}
	body, err := r.ReadBytes(int(n))
	if err != nil {
		return nil, fmt.Errorf("hci: decode event body (code 0x%02x): %w", primary, err)
	}
	br := wire.NewReader(body)

	var code Code
	if primary == CodeLEMeta {
		sub, err := br.ReadU8()
		if err != nil {
			return nil, fmt.Errorf("hci: decode LE-Meta subcode: %w", err)
		}
		code = metaCode(sub)
	} else {
		code = simpleCode(primary)
	}

	switch {
	case code.Equal(CodeDisconnectionComplete):
		v, err := readDisconnectionComplete(br)
		if err != nil {
			return nil, fmt.Errorf("hci: decode DisconnectionComplete: %w", err)
		}
		return v, nil
	case code.Equal(CodeCommandComplete):
		v, err := readCommandComplete(br)
		if err != nil {
			return nil, fmt.Errorf("hci: decode CommandComplete: %w", err)
		}
		return v, nil
	case code.Equal(CodeCommandStatus):
		v, err := readCommandStatus(br)
		if err != nil {
			return nil, fmt.Errorf("hci: decode CommandStatus: %w", err)
		}
		return v, nil
	case code.Equal(CodeNumberOfCompletedPackets):
		v, err := readNumberOfCompletedPackets(br)
		if err != nil {
			return nil, fmt.Errorf("hci: decode NumberOfCompletedPackets: %w", err)
		}
		return v, nil
	case code.Equal(CodeLeCisEstablished):
		v, err := readLeCisEstablished(br)
		if err != nil {
			return nil, fmt.Errorf("hci: decode LeCisEstablished: %w", err)
		}
		return v, nil
	case code.Equal(CodeLeCreateBigComplete):
		v, err := readLeCreateBigComplete(br)
		if err != nil {
			return nil, fmt.Errorf("hci: decode LeCreateBigComplete: %w", err)
		}
		return v, nil
	case code.Equal(CodeLeTerminateBigComplete):
		v, err := readLeTerminateBigComplete(br)
		if err != nil {
			return nil, fmt.Errorf("hci: decode LeTerminateBigComplete: %w", err)
		}
		return v, nil
	default:
		return UnknownEvent{EventCode: code, Params: body}, nil
	}
}

// EncodeEvent serializes e back to its wire form: code, length, optional
// subcode, body.
func EncodeEvent(e Event) []byte {
	w := wire.NewWriter()
	code := e.Code()
	writeEventCode(w, code)
	lenOff := w.Reserve(1)
	if code.Sub != nil {
		w.WriteU8(*code.Sub)
	}

	switch v := e.(type) {
	case DisconnectionComplete:
		writeDisconnectionComplete(w, v)
	case CommandComplete:
		writeCommandComplete(w, v)
	case CommandStatus:
		writeCommandStatus(w, v)
	case NumberOfCompletedPackets:
		writeNumberOfCompletedPackets(w, v)
	case LeCisEstablished:
		writeLeCisEstablished(w, v)
	case LeCreateBigComplete:
		writeLeCreateBigComplete(w, v)
	case LeTerminateBigComplete:
		writeLeTerminateBigComplete(w, v)
	case UnknownEvent:
		w.WriteBytes(v.Params)
	default:
		panic(fmt.Sprintf("hci: EncodeEvent: unhandled event type %T", e))
	}

	w.PatchU8(lenOff, uint8(w.Len()-lenOff-1))
	return w.Bytes()
}
