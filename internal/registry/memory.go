// Package registry holds the host-side record of which live connections
// belong to which hub. It outlives hub instances: a hub that is evicted and
// recreated asks the registry for its connections instead of starting empty.
package registry

import (
	"context"
	"sync"

	"github.com/funkyfirehose/relay/internal/hub"
)

type entry struct {
	member hub.Member
	cancel func()
}

// Memory is the in-process host registry. A connection leaves the registry
// by itself when its transport closes, whether or not a hub is listening.
type Memory struct {
	mu   sync.Mutex
	hubs map[string]map[string]*entry
}

// NewMemory creates an empty registry.
func NewMemory() *Memory {
	return &Memory{hubs: make(map[string]map[string]*entry)}
}

func (m *Memory) Attach(_ context.Context, hubName string, member hub.Member) error {
	id := member.Conn.ID()
	e := &entry{member: member}

	m.mu.Lock()
	if m.hubs[hubName] == nil {
		m.hubs[hubName] = make(map[string]*entry)
	}
	old := m.hubs[hubName][id]
	m.hubs[hubName][id] = e
	m.mu.Unlock()

	if old != nil && old.cancel != nil {
		old.cancel()
	}

	cancel := member.Conn.OnClose(func() { m.forget(hubName, id, e) })
	m.mu.Lock()
	if m.hubs[hubName][id] == e {
		e.cancel = cancel
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	// Already forgotten, the listener is not needed.
	cancel()
	return nil
}

func (m *Memory) Detach(_ context.Context, hubName, connID string) error {
	m.mu.Lock()
	e := m.hubs[hubName][connID]
	m.remove(hubName, connID)
	m.mu.Unlock()

	if e != nil && e.cancel != nil {
		e.cancel()
	}
	return nil
}

// Live returns every attached connection for hubName that has not closed.
func (m *Memory) Live(_ context.Context, hubName string) ([]hub.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	members := make([]hub.Member, 0, len(m.hubs[hubName]))
	for _, e := range m.hubs[hubName] {
		select {
		case <-e.member.Conn.Done():
			continue
		default:
		}
		members = append(members, e.member)
	}
	return members, nil
}

// Lookup returns the live member for connID, if any.
func (m *Memory) Lookup(hubName, connID string) (hub.Member, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.hubs[hubName][connID]
	if !ok {
		return hub.Member{}, false
	}
	select {
	case <-e.member.Conn.Done():
		return hub.Member{}, false
	default:
	}
	return e.member, true
}

// Len returns the number of attached connections for hubName.
func (m *Memory) Len(hubName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hubs[hubName])
}

func (m *Memory) forget(hubName, connID string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hubs[hubName][connID] == e {
		m.remove(hubName, connID)
	}
}

// remove must be called with m.mu held.
func (m *Memory) remove(hubName, connID string) {
	conns, ok := m.hubs[hubName]
	if !ok {
		return
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(m.hubs, hubName)
	}
}
