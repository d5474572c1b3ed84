package app

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/chorus/internal/core"
	"github.com/dkeye/chorus/internal/domain"
	"github.com/rs/zerolog/log"
)

// SignalRelay forwards offers, answers and candidates between identities.
// Nothing is queued: a recipient without a live connection loses the message.
type SignalRelay struct {
	Registry *Registry
}

func NewSignalRelay(reg *Registry) *SignalRelay {
	return &SignalRelay{Registry: reg}
}

// Relay delivers payload to to, tagged with from.
func (r *SignalRelay) Relay(kind string, from, to domain.UserID, payload json.RawMessage) error {
	switch kind {
	case core.EventRTCOffer, core.EventRTCAnswer, core.EventRTCIceCandidate:
	default:
		return fmt.Errorf("relay kind %q: %w", kind, domain.ErrProtocolViolation)
	}
	if to == "" || len(payload) == 0 {
		return fmt.Errorf("relay %s without recipient or payload: %w", kind, domain.ErrProtocolViolation)
	}
	peers := r.Registry.Peers([]domain.UserID{to})
	if len(peers) == 0 {
		log.Debug().Str("module", "app.relay").Str("kind", kind).Str("from", string(from)).Str("to", string(to)).Msg("recipient offline, dropped")
		return domain.ErrNotFound
	}
	frame, err := core.Encode(kind, core.RTCRecvPayload{From: from, Payload: payload})
	if err != nil {
		return err
	}
	return peers[0].Conn.TrySend(frame)
}
