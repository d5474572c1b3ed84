package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/chorus/internal/app/orch"
	"github.com/dkeye/chorus/internal/config"
	"github.com/dkeye/chorus/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const writeWait = 5 * time.Second

type SignalWSController struct {
	Orch *orch.Orchestrator

	readLimit  int64
	pingPeriod time.Duration
	sendBuffer int
	rate       rate.Limit
	burst      int
	upgrader   websocket.Upgrader
}

func NewSignalWSController(o *orch.Orchestrator, cfg *config.Config) *SignalWSController {
	ctl := &SignalWSController{
		Orch:       o,
		readLimit:  cfg.ReadLimit,
		pingPeriod: cfg.PingPeriod,
		sendBuffer: cfg.SendBuffer,
		rate:       rate.Limit(cfg.Signal.Rate),
		burst:      cfg.Signal.Burst,
	}
	if ctl.pingPeriod <= 0 {
		ctl.pingPeriod = 54 * time.Second
	}
	if ctl.sendBuffer <= 0 {
		ctl.sendBuffer = 64
	}
	if ctl.rate <= 0 {
		ctl.rate = rate.Inf
	}
	ctl.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return ctl
}

// WsSignalConn is a websocket with a bounded outbound queue. Close drains
// the queue before the socket goes away.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	id := core.ConnID(uuid.NewString())
	log.Info().Str("module", "signal").Str("conn", string(id)).Str("remote", c.ClientIP()).Msg("new WS connection")

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.sendBuffer),
	}
	ctl.Orch.Registry.Attach(id, conn)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, id, conn)
	go func() {
		defer cancel()
		ctl.readPump(ctx, id, conn)
		ctl.Orch.OnTransportClosed(context.WithoutCancel(ctx), id)
	}()
}
