package mqtt

import (
	"fmt"
	"strconv"

	"github.com/256dpi/gomqtt/packet"
)

const logPayloadMax = 64

// PacketString formats PUBLISH as one line with readable payload, other packets with gomqtt String.
func PacketString(p packet.Generic) string {
	switch pt := p.(type) {
	case nil:
		return "(nil)"
	case *packet.Publish:
		m := &pt.Message
		return fmt.Sprintf("PUBLISH id=%d dup=%t topic=%s qos=%d retain=%t payload=%s",
			pt.ID, pt.Dup, m.Topic, m.QOS, m.Retain, payloadString(m.Payload))
	default:
		return p.String()
	}
}

// payloadString quotes printable ASCII, hex otherwise. Long payloads are cut.
func payloadString(b []byte) string {
	suffix := ""
	if len(b) > logPayloadMax {
		b, suffix = b[:logPayloadMax], "..."
	}
	for _, c := range b {
		if c < 0x20 || c >= 0x7f {
			return fmt.Sprintf("%x%s", b, suffix)
		}
	}
	return strconv.Quote(string(b)) + suffix
}
