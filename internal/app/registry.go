package app

import (
	"sync"

	"github.com/dkeye/chorus/internal/core"
	"github.com/dkeye/chorus/internal/domain"
	"github.com/rs/zerolog/log"
)

// Binding ties a live connection to the identity that authenticated on it.
type Binding struct {
	ConnID core.ConnID
	UserID domain.UserID
	Token  string
}

type connEntry struct {
	conn     core.SignalConnection
	userID   domain.UserID
	token    string
	serverID domain.ServerID
}

// Peer is a snapshot of one bound connection.
type Peer struct {
	ConnID core.ConnID
	UserID domain.UserID
	Conn   core.SignalConnection
}

// Registry is the Connection Registry: every live transport, the identity
// bound to it and the server room it listens to. At most one connection is
// bound per identity.
type Registry struct {
	mu     sync.RWMutex
	conns  map[core.ConnID]*connEntry
	byUser map[domain.UserID]core.ConnID

	identities *core.KeyedLocker
}

func NewRegistry() *Registry {
	return &Registry{
		conns:      make(map[core.ConnID]*connEntry),
		byUser:     make(map[domain.UserID]core.ConnID),
		identities: core.NewKeyedLocker(),
	}
}

// Attach registers a fresh, unbound transport.
func (r *Registry) Attach(id core.ConnID, conn core.SignalConnection) {
	r.mu.Lock()
	r.conns[id] = &connEntry{conn: conn}
	r.mu.Unlock()
	log.Debug().Str("module", "app.registry").Str("conn", string(id)).Msg("attached")
}

// Detach forgets a transport entirely. Callers unbind first.
func (r *Registry) Detach(id core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return
	}
	if e.userID != "" && r.byUser[e.userID] == id {
		delete(r.byUser, e.userID)
	}
	delete(r.conns, id)
	log.Debug().Str("module", "app.registry").Str("conn", string(id)).Msg("detached")
}

// Bind installs uid on connection id. A different connection already bound
// to uid is handed to evict and forcibly unbound before the new binding
// becomes visible. Binds for the same identity are serialized.
func (r *Registry) Bind(id core.ConnID, uid domain.UserID, token string, evict func(old Binding)) error {
	unlock := r.identities.Lock(string(uid))
	defer unlock()

	r.mu.RLock()
	_, attached := r.conns[id]
	oldID, hasOld := r.byUser[uid]
	var old Binding
	if hasOld {
		if e, ok := r.conns[oldID]; ok {
			old = Binding{ConnID: oldID, UserID: uid, Token: e.token}
		}
	}
	r.mu.RUnlock()

	if !attached {
		return core.ErrConnClosed
	}
	if hasOld && oldID != id {
		log.Info().Str("module", "app.registry").
			Str("user", string(uid)).
			Str("old_conn", string(oldID)).
			Str("new_conn", string(id)).
			Msg("replacing connection")
		if evict != nil {
			evict(old)
		}
		r.Unbind(oldID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return core.ErrConnClosed
	}
	if e.userID != "" && e.userID != uid && r.byUser[e.userID] == id {
		delete(r.byUser, e.userID)
	}
	e.userID, e.token = uid, token
	r.byUser[uid] = id
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("user", string(uid)).Msg("bound")
	return nil
}

// Unbind drops the identity binding and room subscription of id. Only the
// first call for a binding reports ok.
func (r *Registry) Unbind(id core.ConnID) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok || e.userID == "" {
		return Binding{}, false
	}
	b := Binding{ConnID: id, UserID: e.userID, Token: e.token}
	if r.byUser[e.userID] == id {
		delete(r.byUser, e.userID)
	}
	e.userID, e.token, e.serverID = "", "", ""
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("user", string(b.UserID)).Msg("unbound")
	return b, true
}

func (r *Registry) IdentityOf(id core.ConnID) (domain.UserID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[id]; ok && e.userID != "" {
		return e.userID, nil
	}
	return "", domain.ErrNotFound
}

func (r *Registry) ConnectionOf(uid domain.UserID) (core.ConnID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.byUser[uid]; ok {
		return id, nil
	}
	return "", domain.ErrNotFound
}

// Authorize checks that token is the one id was bound with.
func (r *Registry) Authorize(id core.ConnID, token string) (domain.UserID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok || e.userID == "" || e.token != token {
		return "", domain.ErrInvalidSession
	}
	return e.userID, nil
}

func (r *Registry) Conn(id core.ConnID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[id]; ok {
		return e.conn, true
	}
	return nil, false
}

// Subscribe points id at the broadcast room of sid and returns the room it
// listened to before.
func (r *Registry) Subscribe(id core.ConnID, sid domain.ServerID) domain.ServerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return ""
	}
	prev := e.serverID
	e.serverID = sid
	return prev
}

func (r *Registry) Unsubscribe(id core.ConnID) domain.ServerID {
	return r.Subscribe(id, "")
}

func (r *Registry) ServerOf(id core.ConnID) domain.ServerID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[id]; ok {
		return e.serverID
	}
	return ""
}

// MembersOfServer lists the bound connections subscribed to sid.
func (r *Registry) MembersOfServer(sid domain.ServerID) []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Peer, 0, 8)
	for id, e := range r.conns {
		if e.serverID == sid && e.userID != "" {
			out = append(out, Peer{ConnID: id, UserID: e.userID, Conn: e.conn})
		}
	}
	return out
}

// Peers resolves the live connections of the given identities, skipping
// those that are not connected.
func (r *Registry) Peers(uids []domain.UserID) []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Peer, 0, len(uids))
	for _, uid := range uids {
		id, ok := r.byUser[uid]
		if !ok {
			continue
		}
		if e, ok := r.conns[id]; ok {
			out = append(out, Peer{ConnID: id, UserID: uid, Conn: e.conn})
		}
	}
	return out
}
