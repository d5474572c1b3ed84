package signal

import (
	"context"

	"github.com/dkeye/chorus/internal/core"
)

func (ctl *SignalWSController) handleConnectUser(ctx context.Context, id core.ConnID, raw []byte) {
	var p core.SessionPayload
	if err := core.DecodePayload(raw, &p); err != nil {
		ctl.Orch.SendError(id, core.EventConnectUser, err)
		return
	}
	_ = ctl.Orch.ConnectUser(ctx, id, p.SessionToken)
}

func (ctl *SignalWSController) handleDisconnectUser(ctx context.Context, id core.ConnID, raw []byte) {
	var p core.SessionPayload
	if err := core.DecodePayload(raw, &p); err != nil {
		ctl.Orch.SendError(id, core.EventDisconnectUser, err)
		return
	}
	_ = ctl.Orch.DisconnectUser(ctx, id, p.SessionToken)
}

func (ctl *SignalWSController) handleUpdatePresence(ctx context.Context, id core.ConnID, raw []byte) {
	var p core.UpdatePresencePayload
	if err := core.DecodePayload(raw, &p); err != nil {
		ctl.Orch.SendError(id, core.EventUpdatePresence, err)
		return
	}
	_ = ctl.Orch.UpdatePresence(ctx, id, p.SessionToken, p.Status)
}
