package ssh

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Registry caches live connections keyed by (host, credential) so terminal
// sessions, executions and fact collections share one transport per pair.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*Connection
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

func registryKey(hostID, credID int64) string {
	return fmt.Sprintf("%d:%d", hostID, credID)
}

// Get returns the cached connection for the pair if it is still alive.
// A dead cached connection is evicted and reported as a miss. The liveness
// probe runs outside the lock; concurrent callers may race to rebuild the
// same entry, which is tolerated because Put keeps the newest connection.
func (r *Registry) Get(hostID, credID int64) (*Connection, bool) {
	key := registryKey(hostID, credID)

	r.mu.Lock()
	conn, ok := r.conns[key]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}

	if conn.Alive() {
		return conn, true
	}

	logrus.Infof("registry: evicting dead connection %s", key)
	r.evict(key, conn)
	return nil, false
}

// Put caches a connection, displacing any previous entry for the pair.
// The displaced connection is not closed here: in-flight sessions may still
// be multiplexed over it, and its keepalive loop will wind it down once the
// peer drops it.
func (r *Registry) Put(conn *Connection) {
	key := registryKey(conn.HostID, conn.CredentialID)

	r.mu.Lock()
	prev := r.conns[key]
	r.conns[key] = conn
	r.mu.Unlock()

	if prev != nil && prev != conn {
		logrus.Debugf("registry: displaced previous connection %s", key)
	}
}

// Evict removes and closes the cached connection for the pair, if any.
// Reports whether an entry existed.
func (r *Registry) Evict(hostID, credID int64) bool {
	key := registryKey(hostID, credID)

	r.mu.Lock()
	conn, ok := r.conns[key]
	if ok {
		delete(r.conns, key)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	conn.Close()
	logrus.Infof("registry: evicted %s", key)
	return true
}

// evict removes the entry only if it still maps to the given connection,
// then closes it.
func (r *Registry) evict(key string, conn *Connection) {
	r.mu.Lock()
	if r.conns[key] == conn {
		delete(r.conns, key)
	}
	r.mu.Unlock()
	conn.Close()
}

// Len reports the number of cached connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Shutdown closes every cached connection. Used at process exit.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.conns = make(map[string]*Connection)
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	logrus.Infof("registry: closed %d connections", len(conns))
}
