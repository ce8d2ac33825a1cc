package hci

import "github.com/open-source-firmware/go-hci-offload-proxy/pkg/wire"

// CodeLEMeta is the primary event code shared by every LE subevent; the
// actual event is distinguished by a second subcode byte immediately
// following the primary code and length.
const CodeLEMeta uint8 = 0x3e

// Code identifies an HCI event: a primary event code, and for LE-Meta events
// (primary code 0x3e) a second subcode byte. Sub is nil for every non-Meta
// event.
type Code struct {
	Primary uint8
	Sub     *uint8
}

func simpleCode(primary uint8) Code {
	return Code{Primary: primary}
}

func metaCode(sub uint8) Code {
	s := sub
	return Code{Primary: CodeLEMeta, Sub: &s}
}

// Equal reports whether two codes name the same event.
func (c Code) Equal(o Code) bool {
	if c.Primary != o.Primary {
		return false
	}
	if (c.Sub == nil) != (o.Sub == nil) {
		return false
	}
	return c.Sub == nil || *c.Sub == *o.Sub
}

// Recognized event codes.
var (
	CodeDisconnectionComplete      = simpleCode(0x05)
	CodeCommandComplete            = simpleCode(0x0e)
	CodeCommandStatus              = simpleCode(0x0f)
	CodeNumberOfCompletedPackets   = simpleCode(0x13)
	CodeLeCisEstablished           = metaCode(0x19)
	CodeLeCreateBigComplete        = metaCode(0x1b)
	CodeLeTerminateBigComplete     = metaCode(0x1c)
)

func writeEventCode(w *wire.Writer, c Code) {
	w.WriteU8(c.Primary)
}
