package signal

import (
	"context"

	"github.com/dkeye/chorus/internal/core"
)

// decode reports malformed payloads to the sender and tells the caller to stop.
func (ctl *SignalWSController) decode(id core.ConnID, event string, raw []byte, v any) bool {
	if err := core.DecodePayload(raw, v); err != nil {
		ctl.Orch.SendError(id, event, err)
		return false
	}
	return true
}

func (ctl *SignalWSController) handleCreateServer(ctx context.Context, id core.ConnID, raw []byte) {
	var p core.CreateServerPayload
	if ctl.decode(id, core.EventCreateServer, raw, &p) {
		_ = ctl.Orch.CreateServer(ctx, id, p)
	}
}

func (ctl *SignalWSController) handleConnectServer(ctx context.Context, id core.ConnID, raw []byte) {
	var p core.ConnectServerPayload
	if ctl.decode(id, core.EventConnectServer, raw, &p) {
		_ = ctl.Orch.ConnectServer(ctx, id, p.SessionToken, p.ServerID)
	}
}

func (ctl *SignalWSController) handleDisconnectServer(ctx context.Context, id core.ConnID, raw []byte) {
	var p core.SessionPayload
	if ctl.decode(id, core.EventDisconnectServer, raw, &p) {
		_ = ctl.Orch.DisconnectServer(ctx, id, p.SessionToken)
	}
}

func (ctl *SignalWSController) handleConnectChannel(ctx context.Context, id core.ConnID, raw []byte) {
	var p core.ConnectChannelPayload
	if ctl.decode(id, core.EventConnectChannel, raw, &p) {
		_ = ctl.Orch.ConnectChannel(ctx, id, p.SessionToken, p.ChannelID)
	}
}

func (ctl *SignalWSController) handleDisconnectChannel(ctx context.Context, id core.ConnID, raw []byte) {
	var p core.SessionPayload
	if ctl.decode(id, core.EventDisconnectChannel, raw, &p) {
		_ = ctl.Orch.DisconnectChannel(ctx, id, p.SessionToken)
	}
}

func (ctl *SignalWSController) handleChatMessage(ctx context.Context, id core.ConnID, raw []byte) {
	var p core.ChatMessagePayload
	if ctl.decode(id, core.EventChatMessage, raw, &p) {
		_ = ctl.Orch.ChatMessage(ctx, id, p)
	}
}

func (ctl *SignalWSController) handleAddChannel(ctx context.Context, id core.ConnID, raw []byte) {
	var p core.AddChannelPayload
	if ctl.decode(id, core.EventAddChannel, raw, &p) {
		_ = ctl.Orch.AddChannel(ctx, id, p)
	}
}

func (ctl *SignalWSController) handleEditChannel(ctx context.Context, id core.ConnID, raw []byte) {
	var p core.EditChannelPayload
	if ctl.decode(id, core.EventEditChannel, raw, &p) {
		_ = ctl.Orch.EditChannel(ctx, id, p)
	}
}

func (ctl *SignalWSController) handleDeleteChannel(ctx context.Context, id core.ConnID, raw []byte) {
	var p core.DeleteChannelPayload
	if ctl.decode(id, core.EventDeleteChannel, raw, &p) {
		_ = ctl.Orch.DeleteChannel(ctx, id, p)
	}
}

func (ctl *SignalWSController) handleEditMember(ctx context.Context, id core.ConnID, raw []byte) {
	var p core.EditMemberPayload
	if ctl.decode(id, core.EventEditMember, raw, &p) {
		_ = ctl.Orch.EditMember(ctx, id, p)
	}
}
