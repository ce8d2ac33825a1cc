package hci

import (
	"fmt"

	"github.com/open-source-firmware/go-hci-offload-proxy/pkg/wire"
)

// Command is any recognized HCI command packet. Every Command knows its own
// opcode; the body is encoded/decoded by the package-level Decode/Encode
// dispatch below.
type Command interface {
	OpCode() OpCode
}

// Reset is HCI Reset, OGF 0x03 OCF 0x003. It carries no parameters.
type Reset struct{}

func (Reset) OpCode() OpCode { return OpCodeReset }

// LeReadBufferSizeV1 is LE Read Buffer Size [v1], OGF 0x08 OCF 0x002. It
// carries no parameters; only its ReturnParameters carry data.
type LeReadBufferSizeV1 struct{}

func (LeReadBufferSizeV1) OpCode() OpCode { return OpCodeLeReadBufferSizeV1 }

// LeReadBufferSizeV2 is LE Read Buffer Size [v2], OGF 0x08 OCF 0x060.
type LeReadBufferSizeV2 struct{}

func (LeReadBufferSizeV2) OpCode() OpCode { return OpCodeLeReadBufferSizeV2 }

// LeCisInCigParameters is one CIS entry within LeSetCigParameters.
type LeCisInCigParameters struct {
	CisID      uint8
	MaxSduCToP uint16
	MaxSduPToC uint16
	PhyCToP    uint8
	PhyPToC    uint8
	RtnCToP    uint8
	RtnPToC    uint8
}

func readLeCisInCigParameters(r *wire.Reader) (LeCisInCigParameters, error) {
	var c LeCisInCigParameters
	var err error
	if c.CisID, err = r.ReadU8(); err != nil {
		return c, err
	}
	if c.MaxSduCToP, err = r.ReadU16(); err != nil {
		return c, err
	}
	if c.MaxSduPToC, err = r.ReadU16(); err != nil {
		return c, err
	}
	if c.PhyCToP, err = r.ReadU8(); err != nil {
		return c, err
	}
	if c.PhyPToC, err = r.ReadU8(); err != nil {
		return c, err
	}
	if c.RtnCToP, err = r.ReadU8(); err != nil {
		return c, err
	}
	if c.RtnPToC, err = r.ReadU8(); err != nil {
		return c, err
	}
	return c, nil
}

func writeLeCisInCigParameters(w *wire.Writer, c LeCisInCigParameters) {
	w.WriteU8(c.CisID)
	w.WriteU16(c.MaxSduCToP)
	w.WriteU16(c.MaxSduPToC)
	w.WriteU8(c.PhyCToP)
	w.WriteU8(c.PhyPToC)
	w.WriteU8(c.RtnCToP)
	w.WriteU8(c.RtnPToC)
}

// LeSetCigParameters is LE Set CIG Parameters, OGF 0x08 OCF 0x062.
type LeSetCigParameters struct {
	CigID                  uint8
	SduIntervalCToP        uint32 // 3-byte wire field
	SduIntervalPToC        uint32 // 3-byte wire field
	WorstCaseSca           uint8
	Packing                uint8
	Framing                uint8
	MaxTransportLatencyCToP uint16
	MaxTransportLatencyPToC uint16
	Cis                    []LeCisInCigParameters
}

func (LeSetCigParameters) OpCode() OpCode { return OpCodeLeSetCigParameters }

func readLeSetCigParameters(r *wire.Reader) (LeSetCigParameters, error) {
	var p LeSetCigParameters
	var err error
	if p.CigID, err = r.ReadU8(); err != nil {
		return p, err
	}
	if p.SduIntervalCToP, err = r.ReadU24(); err != nil {
		return p, err
	}
	if p.SduIntervalPToC, err = r.ReadU24(); err != nil {
		return p, err
	}
	if p.WorstCaseSca, err = r.ReadU8(); err != nil {
		return p, err
	}
	if p.Packing, err = r.ReadU8(); err != nil {
		return p, err
	}
	if p.Framing, err = r.ReadU8(); err != nil {
		return p, err
	}
	if p.MaxTransportLatencyCToP, err = r.ReadU16(); err != nil {
		return p, err
	}
	if p.MaxTransportLatencyPToC, err = r.ReadU16(); err != nil {
		return p, err
	}
	p.Cis, err = wire.ReadSlice(r, readLeCisInCigParameters)
	return p, err
}

func writeLeSetCigParameters(w *wire.Writer, p LeSetCigParameters) {
	w.WriteU8(p.CigID)
	w.WriteU24(p.SduIntervalCToP)
	w.WriteU24(p.SduIntervalPToC)
	w.WriteU8(p.WorstCaseSca)
	w.WriteU8(p.Packing)
	w.WriteU8(p.Framing)
	w.WriteU16(p.MaxTransportLatencyCToP)
	w.WriteU16(p.MaxTransportLatencyPToC)
	wire.WriteSlice(w, p.Cis, writeLeCisInCigParameters)
}

// CisAclConnectionHandle pairs a CIS connection handle with the ACL
// connection handle it rides on, as carried by LeCreateCis.
type CisAclConnectionHandle struct {
	Cis uint16
	Acl uint16
}

func readCisAclConnectionHandle(r *wire.Reader) (CisAclConnectionHandle, error) {
	var c CisAclConnectionHandle
	var err error
	if c.Cis, err = r.ReadU16(); err != nil {
		return c, err
	}
	c.Acl, err = r.ReadU16()
	return c, err
}

func writeCisAclConnectionHandle(w *wire.Writer, c CisAclConnectionHandle) {
	w.WriteU16(c.Cis)
	w.WriteU16(c.Acl)
}

// LeCreateCis is LE Create CIS, OGF 0x08 OCF 0x064.
type LeCreateCis struct {
	ConnectionHandles []CisAclConnectionHandle
}

func (LeCreateCis) OpCode() OpCode { return OpCodeLeCreateCis }

func readLeCreateCis(r *wire.Reader) (LeCreateCis, error) {
	handles, err := wire.ReadSlice(r, readCisAclConnectionHandle)
	return LeCreateCis{ConnectionHandles: handles}, err
}

func writeLeCreateCis(w *wire.Writer, p LeCreateCis) {
	wire.WriteSlice(w, p.ConnectionHandles, writeCisAclConnectionHandle)
}

// LeRemoveCig is LE Remove CIG, OGF 0x08 OCF 0x065.
type LeRemoveCig struct {
	CigID uint8
}

func (LeRemoveCig) OpCode() OpCode { return OpCodeLeRemoveCig }

func readLeRemoveCig(r *wire.Reader) (LeRemoveCig, error) {
	id, err := r.ReadU8()
	return LeRemoveCig{CigID: id}, err
}

func writeLeRemoveCig(w *wire.Writer, p LeRemoveCig) {
	w.WriteU8(p.CigID)
}

// LeCreateBig is LE Create BIG, OGF 0x08 OCF 0x068.
type LeCreateBig struct {
	BigHandle            uint8
	AdvertisingHandle    uint8
	NumBis               uint8
	SduInterval          uint32 // 3-byte wire field
	MaxSdu               uint16
	MaxTransportLatency  uint16
	Rtn                  uint8
	Phy                  uint8
	Packing              uint8
	Framing              uint8
	Encryption           uint8
	BroadcastCode        [16]byte
}

func (LeCreateBig) OpCode() OpCode { return OpCodeLeCreateBig }

func readLeCreateBig(r *wire.Reader) (LeCreateBig, error) {
	var p LeCreateBig
	var err error
	if p.BigHandle, err = r.ReadU8(); err != nil {
		return p, err
	}
	if p.AdvertisingHandle, err = r.ReadU8(); err != nil {
		return p, err
	}
	if p.NumBis, err = r.ReadU8(); err != nil {
		return p, err
	}
	if p.SduInterval, err = r.ReadU24(); err != nil {
		return p, err
	}
	if p.MaxSdu, err = r.ReadU16(); err != nil {
		return p, err
	}
	if p.MaxTransportLatency, err = r.ReadU16(); err != nil {
		return p, err
	}
	if p.Rtn, err = r.ReadU8(); err != nil {
		return p, err
	}
	if p.Phy, err = r.ReadU8(); err != nil {
		return p, err
	}
	if p.Packing, err = r.ReadU8(); err != nil {
		return p, err
	}
	if p.Framing, err = r.ReadU8(); err != nil {
		return p, err
	}
	if p.Encryption, err = r.ReadU8(); err != nil {
		return p, err
	}
	code, err := r.ReadBytes(16)
	if err != nil {
		return p, err
	}
	copy(p.BroadcastCode[:], code)
	return p, nil
}

func writeLeCreateBig(w *wire.Writer, p LeCreateBig) {
	w.WriteU8(p.BigHandle)
	w.WriteU8(p.AdvertisingHandle)
	w.WriteU8(p.NumBis)
	w.WriteU24(p.SduInterval)
	w.WriteU16(p.MaxSdu)
	w.WriteU16(p.MaxTransportLatency)
	w.WriteU8(p.Rtn)
	w.WriteU8(p.Phy)
	w.WriteU8(p.Packing)
	w.WriteU8(p.Framing)
	w.WriteU8(p.Encryption)
	w.WriteBytes(p.BroadcastCode[:])
}

// LeDataPathDirection selects which direction LeSetupIsoDataPath configures.
type LeDataPathDirection uint8

const (
	LeDataPathInput  LeDataPathDirection = 0x00
	LeDataPathOutput LeDataPathDirection = 0x01
)

// CodingFormat names the audio coding format of a codec ID, Assigned Numbers
// §2.1.
type CodingFormat uint8

const (
	CodingFormatULawLog       CodingFormat = 0x00
	CodingFormatALawLog       CodingFormat = 0x01
	CodingFormatCvsd          CodingFormat = 0x02
	CodingFormatTransparent   CodingFormat = 0x03
	CodingFormatLinearPcm     CodingFormat = 0x04
	CodingFormatMSbc          CodingFormat = 0x05
	CodingFormatLc3           CodingFormat = 0x06
	CodingFormatG729A         CodingFormat = 0x07
	CodingFormatVendorSpecific CodingFormat = 0xff
)

// LeCodecId identifies a codec: either a standard coding format, or a
// vendor-specific one qualified by company/vendor codec IDs.
type LeCodecId struct {
	CodingFormat CodingFormat
	CompanyID    uint16
	VendorID     uint16
}

func readLeCodecId(r *wire.Reader) (LeCodecId, error) {
	var c LeCodecId
	f, err := r.ReadU8()
	if err != nil {
		return c, err
	}
	c.CodingFormat = CodingFormat(f)
	if c.CompanyID, err = r.ReadU16(); err != nil {
		return c, err
	}
	c.VendorID, err = r.ReadU16()
	return c, err
}

func writeLeCodecId(w *wire.Writer, c LeCodecId) {
	w.WriteU8(uint8(c.CodingFormat))
	w.WriteU16(c.CompanyID)
	w.WriteU16(c.VendorID)
}

// LeSetupIsoDataPath is LE Setup ISO Data Path, OGF 0x08 OCF 0x06e.
type LeSetupIsoDataPath struct {
	ConnectionHandle     uint16
	DataPathDirection    LeDataPathDirection
	DataPathID           uint8
	CodecID              LeCodecId
	ControllerDelay      uint32 // 3-byte wire field
	CodecConfiguration   []byte
}

func (LeSetupIsoDataPath) OpCode() OpCode { return OpCodeLeSetupIsoDataPath }

func readLeSetupIsoDataPath(r *wire.Reader) (LeSetupIsoDataPath, error) {
	var p LeSetupIsoDataPath
	var err error
	if p.ConnectionHandle, err = r.ReadU16(); err != nil {
		return p, err
	}
	dir, err := r.ReadU8()
	if err != nil {
		return p, err
	}
	p.DataPathDirection = LeDataPathDirection(dir)
	if p.DataPathID, err = r.ReadU8(); err != nil {
		return p, err
	}
	if p.CodecID, err = readLeCodecId(r); err != nil {
		return p, err
	}
	if p.ControllerDelay, err = r.ReadU24(); err != nil {
		return p, err
	}
	p.CodecConfiguration, err = r.ReadLenPrefixed()
	return p, err
}

func writeLeSetupIsoDataPath(w *wire.Writer, p LeSetupIsoDataPath) {
	w.WriteU16(p.ConnectionHandle)
	w.WriteU8(uint8(p.DataPathDirection))
	w.WriteU8(p.DataPathID)
	writeLeCodecId(w, p.CodecID)
	w.WriteU24(p.ControllerDelay)
	w.WriteLenPrefixed(p.CodecConfiguration)
}

// LeRemoveIsoDataPath is LE Remove ISO Data Path, OGF 0x08 OCF 0x06f.
type LeRemoveIsoDataPath struct {
	ConnectionHandle  uint16
	DataPathDirection uint8
}

func (LeRemoveIsoDataPath) OpCode() OpCode { return OpCodeLeRemoveIsoDataPath }

func readLeRemoveIsoDataPath(r *wire.Reader) (LeRemoveIsoDataPath, error) {
	var p LeRemoveIsoDataPath
	var err error
	if p.ConnectionHandle, err = r.ReadU16(); err != nil {
		return p, err
	}
	p.DataPathDirection, err = r.ReadU8()
	return p, err
}

func writeLeRemoveIsoDataPath(w *wire.Writer, p LeRemoveIsoDataPath) {
	w.WriteU16(p.ConnectionHandle)
	w.WriteU8(p.DataPathDirection)
}

// UnknownCommand carries any command whose opcode this package does not
// recognize. Its raw body is preserved so the proxy can forward it unchanged
// (unlike ReturnParameters, an unrecognized Command remains re-encodable:
// the proxy's job for traffic it doesn't understand is pure passthrough).
type UnknownCommand struct {
	Opcode OpCode
	Params []byte
}

func (u UnknownCommand) OpCode() OpCode { return u.Opcode }

// DecodeCommand parses one HCI command packet: a 16-bit opcode, a 1-byte
// parameter length, then exactly that many parameter bytes.
func DecodeCommand(b []byte) (Command, error) {
	r := wire.NewReader(b)
	opcode, err := readOpCode(r)
	if err != nil {
		return nil, fmt.Errorf("hci: decode command header: %w", err)
	}
	n, err := r.ReadU8()
	if err != nil {
		return nil, fmt.Errorf("hci: decode command header: %w", err)
	}
	body, err := r.ReadBytes(int(n))
	if err != nil {
		return nil, fmt.Errorf("hci: decode command body (opcode 0x%04x): %w", opcode, err)
	}
	br := wire.NewReader(body)

	switch opcode {
	case OpCodeReset:
		return Reset{}, nil
	case OpCodeLeReadBufferSizeV1:
		return LeReadBufferSizeV1{}, nil
	case OpCodeLeReadBufferSizeV2:
		return LeReadBufferSizeV2{}, nil
	case OpCodeLeSetCigParameters:
		v, err := readLeSetCigParameters(br)
		if err != nil {
			return nil, fmt.Errorf("hci: decode LeSetCigParameters: %w", err)
		}
		return v, nil
	case OpCodeLeCreateCis:
		v, err := readLeCreateCis(br)
		if err != nil {
			return nil, fmt.Errorf("hci: decode LeCreateCis: %w", err)
		}
		return v, nil
	case OpCodeLeRemoveCig:
		v, err := readLeRemoveCig(br)
		if err != nil {
			return nil, fmt.Errorf("hci: decode LeRemoveCig: %w", err)
		}
		return v, nil
	case OpCodeLeCreateBig:
		v, err := readLeCreateBig(br)
		if err != nil {
			return nil, fmt.Errorf("hci: decode LeCreateBig: %w", err)
		}
		return v, nil
	case OpCodeLeSetupIsoDataPath:
		v, err := readLeSetupIsoDataPath(br)
		if err != nil {
			return nil, fmt.Errorf("hci: decode LeSetupIsoDataPath: %w", err)
		}
		return v, nil
	case OpCodeLeRemoveIsoDataPath:
		v, err := readLeRemoveIsoDataPath(br)
		if err != nil {
			return nil, fmt.Errorf("hci: decode LeRemoveIsoDataPath: %w", err)
		}
		return v, nil
	default:
		return UnknownCommand{Opcode: opcode, Params: body}, nil
	}
}

// EncodeCommand serializes c back to its wire form: opcode, length, body.
func EncodeCommand(c Command) []byte {
	w := wire.NewWriter()
	writeOpCode(w, c.OpCode())
	lenOff := w.Reserve(1)

	switch v := c.(type) {
	case Reset:
	case LeReadBufferSizeV1:
	case LeReadBufferSizeV2:
	case LeSetCigParameters:
		writeLeSetCigParameters(w, v)
	case LeCreateCis:
		writeLeCreateCis(w, v)
	case LeRemoveCig:
		writeLeRemoveCig(w, v)
	case LeCreateBig:
		writeLeCreateBig(w, v)
	case LeSetupIsoDataPath:
		writeLeSetupIsoDataPath(w, v)
	case LeRemoveIsoDataPath:
		writeLeRemoveIsoDataPath(w, v)
	case UnknownCommand:
		w.WriteBytes(v.Params)
	default:
		panic(fmt.Sprintf("hci: EncodeCommand: unhandled command type %T", c))
	}

	w.PatchU8(lenOff, uint8(w.Len()-lenOff-1))
	return w.Bytes()
}
