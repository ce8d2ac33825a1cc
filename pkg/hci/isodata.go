package hci

import (
	"errors"
	"fmt"

	"github.com/open-source-firmware/go-hci-offload-proxy/pkg/wire"
)

// ErrShortIsoDataPacket is returned when the declared ISO data length is
// smaller than the SDU header the PB flag requires.
var ErrShortIsoDataPacket = errors.New("hci: iso data packet shorter than its header")

// IsoSduHeader carries per-SDU metadata, present only on the first fragment
// of an SDU.
type IsoSduHeader struct {
	// Timestamp is the SDU's optional timestamp in microseconds. Present on
	// data originated by the controller; absent on host-originated SDUs.
	Timestamp         *uint32
	SequenceNumber    uint16
	SduLength         uint16
	// Status is only meaningful on controller-to-host data: 0 indicates a
	// valid SDU.
	Status uint16
}

func readIsoSduHeader(r *wire.Reader, tsPresent bool) (IsoSduHeader, error) {
	var h IsoSduHeader
	if tsPresent {
		ts, err := r.ReadU32()
		if err != nil {
			return h, err
		}
		h.Timestamp = &ts
	}
	seq, err := r.ReadU16()
	if err != nil {
		return h, err
	}
	h.SequenceNumber = seq

	raw, err := r.ReadU16()
	if err != nil {
		return h, err
	}
	fields := wire.UnpackU16(raw, 12, 2, 2)
	h.SduLength = fields[0]
	h.Status = fields[2]
	return h, nil
}

func (h IsoSduHeader) headerLen() int {
	if h.Timestamp != nil {
		return 8
	}
	return 4
}

func writeIsoSduHeader(w *wire.Writer, h IsoSduHeader) {
	if h.Timestamp != nil {
		w.WriteU32(*h.Timestamp)
	}
	w.WriteU16(h.SequenceNumber)
	w.WriteU16(wire.PackU16(
		wire.BitField{Value: uint32(h.SduLength), Width: 12},
		wire.BitField{Value: 0, Width: 2},
		wire.BitField{Value: uint32(h.Status), Width: 2},
	))
}

// IsoSduFragment describes where this packet falls within its SDU: First
// carries the SDU header and is present exactly once per SDU; Continue
// carries only the payload. IsLast marks the final fragment of the SDU
// (PB flag bit 1).
type IsoSduFragment struct {
	Header  *IsoSduHeader // non-nil only for the first fragment
	IsLast  bool
}

func (f IsoSduFragment) pbFlag() uint16 {
	switch {
	case f.Header != nil && !f.IsLast:
		return 0b00
	case f.Header != nil && f.IsLast:
		return 0b10
	case f.Header == nil && !f.IsLast:
		return 0b01
	default:
		return 0b11
	}
}

func (f IsoSduFragment) headerLen() int {
	if f.Header == nil {
		return 0
	}
	return f.Header.headerLen()
}

// IsoData is an HCI ISO Data packet (Core Spec §5.4.5): a connection handle,
// fragmentation state, and payload.
type IsoData struct {
	ConnectionHandle uint16
	SduFragment      IsoSduFragment
	Payload          []byte
}

// NewIsoData builds a complete, unfragmented SDU: a single First-and-Last
// packet with no timestamp, as used by the offload client's send path
// (spec.md §4.7).
func NewIsoData(connectionHandle, sequenceNumber uint16, payload []byte) IsoData {
	return IsoData{
		ConnectionHandle: connectionHandle,
		SduFragment: IsoSduFragment{
			Header: &IsoSduHeader{
				SequenceNumber: sequenceNumber,
				SduLength:      uint16(len(payload)),
			},
			IsLast: true,
		},
		Payload: payload,
	}
}

// DecodeIsoData parses one HCI ISO Data packet.
func DecodeIsoData(b []byte) (IsoData, error) {
	r := wire.NewReader(b)
	var pkt IsoData

	hdr, err := r.ReadU16()
	if err != nil {
		return pkt, fmt.Errorf("hci: decode iso data header: %w", err)
	}
	fields := wire.UnpackU16(hdr, 12, 2, 1)
	connectionHandle, pbFlag, tsPresent := fields[0], fields[1], fields[2]
	pkt.ConnectionHandle = connectionHandle

	dataLen, err := r.ReadU16()
	if err != nil {
		return pkt, fmt.Errorf("hci: decode iso data length: %w", err)
	}
	dataLen = wire.UnpackU16(dataLen, 14)[0]

	switch pbFlag {
	case 0b00, 0b10:
		h, err := readIsoSduHeader(r, tsPresent != 0)
		if err != nil {
			return pkt, fmt.Errorf("hci: decode iso sdu header: %w", err)
		}
		pkt.SduFragment = IsoSduFragment{Header: &h, IsLast: pbFlag == 0b10}
	case 0b01, 0b11:
		pkt.SduFragment = IsoSduFragment{IsLast: pbFlag == 0b11}
	}

	hdrLen := pkt.SduFragment.headerLen()
	if int(dataLen) < hdrLen {
		return pkt, ErrShortIsoDataPacket
	}
	payload, err := r.ReadBytes(int(dataLen) - hdrLen)
	if err != nil {
		return pkt, fmt.Errorf("hci: decode iso data payload: %w", err)
	}
	pkt.Payload = payload
	return pkt, nil
}

// Encode serializes pkt back to its wire form.
func (pkt IsoData) Encode() []byte {
	w := wire.NewWriter()
	tsPresent := pkt.SduFragment.Header != nil && pkt.SduFragment.Header.Timestamp != nil

	w.WriteU16(wire.PackU16(
		wire.BitField{Value: uint32(pkt.ConnectionHandle), Width: 12},
		wire.BitField{Value: uint32(pkt.SduFragment.pbFlag()), Width: 2},
		wire.BitField{Value: boolToU32(tsPresent), Width: 1},
	))

	packetLen := pkt.SduFragment.headerLen() + len(pkt.Payload)
	w.WriteU16(wire.PackU16(wire.BitField{Value: uint32(packetLen), Width: 14}))

	if pkt.SduFragment.Header != nil {
		writeIsoSduHeader(w, *pkt.SduFragment.Header)
	}
	w.WriteBytes(pkt.Payload)
	return w.Bytes()
}

func boolToU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
