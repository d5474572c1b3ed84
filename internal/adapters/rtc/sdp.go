package rtc

import (
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// RemoteBitrateCeiling reads the receive limit a peer declares with b=TIAS
// or b=AS on its audio sections, in bits per second. It is the rate our
// sender must stay under. Zero means the peer set no limit.
func RemoteBitrateCeiling(desc webrtc.SessionDescription) (uint64, error) {
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(desc.SDP)); err != nil {
		return 0, err
	}
	session := bandwidthOf(parsed.Bandwidth)
	var ceiling uint64
	for _, m := range parsed.MediaDescriptions {
		if m.MediaName.Media != "audio" {
			continue
		}
		bps := bandwidthOf(m.Bandwidth)
		if bps == 0 {
			bps = session
		}
		ceiling = lowerCeiling(ceiling, bps)
	}
	return ceiling, nil
}

// bandwidthOf prefers TIAS, which is already in bits per second, over AS
// in kilobits.
func bandwidthOf(lines []sdp.Bandwidth) uint64 {
	var as uint64
	for _, b := range lines {
		switch b.Type {
		case "TIAS":
			return b.Bandwidth
		case "AS":
			as = b.Bandwidth * 1000
		}
	}
	return as
}
