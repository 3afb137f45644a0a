package websocket

import "sync"

// per-IP and per-user connection caps (spec.md doesn't set limits, but
// every realistic gateway in the retrieval pack enforces them - see
// SPEC_FULL.md §5). Matches the teacher's fixed constants.
const (
	maxConnectionsPerUser = 10
	maxConnectionsPerIP   = 50
)

// ConnTracker enforces connection caps across the whole gateway, mirroring
// internal/websocket.Hub's userConnections/ipConnections bookkeeping in
// the teacher, now split out since the session registry itself
// (internal/collab.Hub) owns nothing about connection admission.
type ConnTracker struct {
	mu    sync.Mutex
	byUser map[string]int
	byIP   map[string]int
}

func NewConnTracker() *ConnTracker {
	return &ConnTracker{
		byUser: make(map[string]int),
		byIP:   make(map[string]int),
	}
}

// CanAccept reports whether a new connection from userID/ipAddress would
// stay within both caps. userID may be empty (anonymous/view-only caller);
// only the per-IP cap applies then.
func (t *ConnTracker) CanAccept(userID, ipAddress string) (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if userID != "" && t.byUser[userID] >= maxConnectionsPerUser {
		return false, "maximum connections per user exceeded"
	}
	if t.byIP[ipAddress] >= maxConnectionsPerIP {
		return false, "maximum connections per IP address exceeded"
	}
	return true, ""
}

// Track records an accepted connection. Call only after a successful
// upgrade.
func (t *ConnTracker) Track(userID, ipAddress string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if userID != "" {
		t.byUser[userID]++
	}
	t.byIP[ipAddress]++
}

// Untrack releases a connection's slot on disconnect.
func (t *ConnTracker) Untrack(userID, ipAddress string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if userID != "" {
		t.byUser[userID]--
		if t.byUser[userID] <= 0 {
			delete(t.byUser, userID)
		}
	}
	t.byIP[ipAddress]--
	if t.byIP[ipAddress] <= 0 {
		delete(t.byIP, ipAddress)
	}
}
