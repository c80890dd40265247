// README: Subscription hub; scope membership and non-blocking delta fan-out.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/modules/track"
	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/types"
)

// Resolver answers which company an entity belongs to, from a local cache.
// Called on the publish path, so it must not block on I/O.
type Resolver interface {
	Company(ref track.EntityRef) (types.ID, bool)
}

// Registry is the slice of the track registry the hub needs: snapshots for
// join-time sync and a sink for diagnostic subscriber counts.
type Registry interface {
	SnapshotAll() []track.Snapshot
	RecordSubscribers(ref track.EntityRef, n int)
}

type conn struct {
	id     string
	send   chan []byte
	scopes map[Scope]struct{}
	dead   bool
}

// Hub owns all subscription records. Its lock covers membership maps and
// channel enqueues and is never held across network writes. Where both are
// taken, registry locks nest inside it (Join); no path takes them the other
// way around.
type Hub struct {
	mu     sync.Mutex
	conns  map[string]*conn
	scopes map[Scope]map[string]*conn

	resolver Resolver
	registry Registry
	buffer   int
	logger   *slog.Logger
}

func New(registry Registry, resolver Resolver, sendBuffer int, logger *slog.Logger) *Hub {
	return &Hub{
		conns:    make(map[string]*conn),
		scopes:   make(map[Scope]map[string]*conn),
		resolver: resolver,
		registry: registry,
		buffer:   sendBuffer,
		logger:   logger,
	}
}

// Register creates a connection record and returns its outbound stream. The
// channel is closed on Disconnect; the transport drains it until then.
func (h *Hub) Register(connID string) <-chan []byte {
	c := &conn{
		id:     connID,
		send:   make(chan []byte, h.buffer),
		scopes: make(map[Scope]struct{}),
	}
	h.mu.Lock()
	h.conns[connID] = c
	h.mu.Unlock()
	return c.send
}

// Join subscribes the connection to a scope and queues one full snapshot of
// every matching entity ahead of any subsequent delta, so the consumer sees
// snapshot-then-deltas in order on its stream.
func (h *Hub) Join(connID string, scope Scope) error {
	h.mu.Lock()
	c, ok := h.conns[connID]
	if !ok || c.dead {
		h.mu.Unlock()
		return ErrUnknownConnection
	}

	c.scopes[scope] = struct{}{}
	members, ok := h.scopes[scope]
	if !ok {
		members = make(map[string]*conn)
		h.scopes[scope] = members
	}
	members[connID] = c

	// Membership is in place before the snapshot is taken, and Publish
	// needs h.mu to enqueue, so every update lands in the snapshot, the
	// delta stream, or both; none can fall between the two. Registry locks
	// nest inside h.mu here; no path acquires them in the other order.
	entities := make([]EntityDelta, 0)
	for _, snap := range h.registry.SnapshotAll() {
		if h.matches(snap.Entity, scope) {
			entities = append(entities, toSnapshotEntry(snap))
		}
	}
	payload, _ := json.Marshal(snapshotMessage{Type: "snapshot", Scope: scope.String(), Entities: entities})
	h.enqueueLocked(c, payload)
	h.mu.Unlock()

	h.reapDead()
	return nil
}

// Leave removes one scope membership; unknown memberships are a no-op.
func (h *Hub) Leave(connID string, scope Scope) {
	h.mu.Lock()
	if c, ok := h.conns[connID]; ok {
		delete(c.scopes, scope)
	}
	h.removeFromScopeLocked(connID, scope)
	h.mu.Unlock()
}

// Disconnect drops the connection and all of its memberships and closes its
// outbound stream. Reconnection is a brand-new connection id.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	c, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, connID)
	for scope := range c.scopes {
		h.removeFromScopeLocked(connID, scope)
	}
	h.mu.Unlock()

	close(c.send)
}

// Publish fans one entity snapshot out to every subscriber of a matching
// scope. Delivery is per-connection best-effort: a consumer that cannot
// keep up is marked dead and cleaned up, never waited on.
func (h *Hub) Publish(_ context.Context, snap track.Snapshot) {
	payload, _ := json.Marshal(deltaMessage{Type: "delta", EntityDelta: toDelta(snap)})

	h.mu.Lock()
	targets := make(map[string]*conn)
	for _, scope := range h.entityScopes(snap.Entity) {
		for id, c := range h.scopes[scope] {
			targets[id] = c
		}
	}
	for _, c := range targets {
		h.enqueueLocked(c, payload)
	}
	h.mu.Unlock()

	h.registry.RecordSubscribers(snap.Entity, len(targets))
	h.reapDead()
}

// NotifyEvicted tells matching subscribers to drop an entity after the
// registry sweeps it out.
func (h *Hub) NotifyEvicted(ref track.EntityRef) {
	payload, _ := json.Marshal(evictedMessage{Type: "evicted", EntityID: string(ref.ID)})

	h.mu.Lock()
	for _, scope := range h.entityScopes(ref) {
		for _, c := range h.scopes[scope] {
			h.enqueueLocked(c, payload)
		}
	}
	h.mu.Unlock()

	h.reapDead()
}

// SnapshotForScope serves the polling fallback: the same view a websocket
// subscriber would receive on join.
func (h *Hub) SnapshotForScope(scope Scope) []EntityDelta {
	entities := make([]EntityDelta, 0)
	for _, snap := range h.registry.SnapshotAll() {
		if h.matches(snap.Entity, scope) {
			entities = append(entities, toSnapshotEntry(snap))
		}
	}
	return entities
}

// entityScopes resolves the scopes an entity's updates belong to: its own
// job scope plus the owning company's scope when the association is cached.
func (h *Hub) entityScopes(ref track.EntityRef) []Scope {
	scopes := make([]Scope, 0, 2)
	if ref.Kind == track.KindJob {
		scopes = append(scopes, Scope{Kind: ScopeJob, ID: ref.ID})
	}
	if company, ok := h.resolver.Company(ref); ok {
		scopes = append(scopes, Scope{Kind: ScopeCompany, ID: company})
	}
	return scopes
}

func (h *Hub) matches(ref track.EntityRef, scope Scope) bool {
	switch scope.Kind {
	case ScopeJob:
		return ref.Kind == track.KindJob && ref.ID == scope.ID
	case ScopeCompany:
		company, ok := h.resolver.Company(ref)
		return ok && company == scope.ID
	default:
		return false
	}
}

// enqueueLocked performs the isolated, non-blocking send. Overflow means
// the consumer stopped draining; it is flagged for cleanup, not retried.
func (h *Hub) enqueueLocked(c *conn, payload []byte) {
	if c.dead {
		return
	}
	select {
	case c.send <- payload:
	default:
		c.dead = true
		h.logger.Warn("subscriber send buffer full, dropping connection", "conn", c.id)
	}
}

func (h *Hub) removeFromScopeLocked(connID string, scope Scope) {
	if members, ok := h.scopes[scope]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.scopes, scope)
		}
	}
}

// reapDead disconnects every connection flagged during enqueue. Runs
// outside the main lock section that flagged them.
func (h *Hub) reapDead() {
	h.mu.Lock()
	var dead []string
	for id, c := range h.conns {
		if c.dead {
			dead = append(dead, id)
		}
	}
	h.mu.Unlock()

	for _, id := range dead {
		h.Disconnect(id)
	}
}
