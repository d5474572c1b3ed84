package signal

import (
	"context"
	"time"

	"github.com/dkeye/chorus/internal/core"
	"github.com/dkeye/chorus/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

func (ctl *SignalWSController) writePump(ctx context.Context, id core.ConnID, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", string(id)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("ping failed")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, id core.ConnID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(id)).Msg("readPump closing")
		c.Close()
	}()

	pongWait := ctl.pingPeriod * 10 / 9
	if ctl.readLimit > 0 {
		c.conn.SetReadLimit(ctl.readLimit)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	limiter := rate.NewLimiter(ctl.rate, ctl.burst)
	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("readPump read error")
			}
			return
		}
		if !limiter.Allow() {
			ctl.Orch.SendError(id, gjson.GetBytes(data, "type").String(), &domain.Error{
				Message:    "too many events",
				Tag:        "RATE_LIMITED",
				StatusCode: 429,
			})
			continue
		}
		ctl.dispatch(ctx, id, c, data)
	}
}

// dispatch routes one inbound envelope by its type.
func (ctl *SignalWSController) dispatch(ctx context.Context, id core.ConnID, c *WsSignalConn, data []byte) {
	typ := gjson.GetBytes(data, "type")
	if !typ.Exists() || typ.Type != gjson.String {
		log.Warn().Str("module", "signal").Str("conn", string(id)).Msg("frame without type, dropped")
		return
	}
	payload := []byte(gjson.GetBytes(data, "payload").Raw)

	switch event := typ.String(); event {
	case core.EventConnectUser:
		ctl.handleConnectUser(ctx, id, payload)
	case core.EventDisconnectUser:
		ctl.handleDisconnectUser(ctx, id, payload)
	case core.EventUpdatePresence:
		ctl.handleUpdatePresence(ctx, id, payload)
	case core.EventCreateServer:
		ctl.handleCreateServer(ctx, id, payload)
	case core.EventConnectServer:
		ctl.handleConnectServer(ctx, id, payload)
	case core.EventDisconnectServer:
		ctl.handleDisconnectServer(ctx, id, payload)
	case core.EventConnectChannel:
		ctl.handleConnectChannel(ctx, id, payload)
	case core.EventDisconnectChannel:
		ctl.handleDisconnectChannel(ctx, id, payload)
	case core.EventChatMessage:
		ctl.handleChatMessage(ctx, id, payload)
	case core.EventAddChannel:
		ctl.handleAddChannel(ctx, id, payload)
	case core.EventEditChannel:
		ctl.handleEditChannel(ctx, id, payload)
	case core.EventDeleteChannel:
		ctl.handleDeleteChannel(ctx, id, payload)
	case core.EventEditMember:
		ctl.handleEditMember(ctx, id, payload)
	case core.EventRTCOffer, core.EventRTCAnswer, core.EventRTCIceCandidate:
		ctl.handleRTC(id, event, payload)
	case core.EventPing:
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("conn", string(id)).Str("type", event).Msg("unknown signal")
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, typ string, v any) {
	f, err := core.Encode(typ, v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(f)
}
