package app_test

import (
	"sync"

	"github.com/dkeye/chorus/internal/core"
	"github.com/tidwall/gjson"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
	full   bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	if c.full {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		out = append(out, gjson.GetBytes(f, "type").String())
	}
	return out
}

func (c *fakeConn) last() gjson.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return gjson.Result{}
	}
	return gjson.ParseBytes(c.frames[len(c.frames)-1])
}
