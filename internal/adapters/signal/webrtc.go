package signal

import (
	"github.com/dkeye/chorus/internal/core"
	"github.com/rs/zerolog/log"
)

// handleRTC relays signaling. Malformed payloads are dropped without a reply.
func (ctl *SignalWSController) handleRTC(id core.ConnID, kind string, raw []byte) {
	var p core.RTCSendPayload
	if err := core.DecodePayload(raw, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Str("kind", kind).Msg("bad rtc payload")
		return
	}
	ctl.Orch.RelaySignal(id, kind, p)
}
