package orch

import (
	"errors"

	"github.com/dkeye/chorus/internal/core"
	"github.com/dkeye/chorus/internal/domain"
	"github.com/rs/zerolog/log"
)

// RelaySignal forwards an offer, answer or candidate from the bound
// identity of id. Failures are logged and the message is dropped.
func (o *Orchestrator) RelaySignal(id core.ConnID, kind string, p core.RTCSendPayload) {
	from, err := o.Registry.IdentityOf(id)
	if err != nil {
		log.Debug().Str("module", "orch.rtc").Str("conn", string(id)).Str("kind", kind).Msg("unbound sender, dropped")
		return
	}
	err = o.Relay.Relay(kind, from, p.To, p.Payload)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
	case errors.Is(err, core.ErrBackpressure):
		if to, cerr := o.Registry.ConnectionOf(p.To); cerr == nil {
			o.onBackpressure(to)
		}
	default:
		log.Warn().Err(err).Str("module", "orch.rtc").Str("from", string(from)).Str("to", string(p.To)).Msg("relay")
	}
}
