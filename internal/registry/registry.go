// Package registry implements the process-wide name -> live-publisher
// mapping: the authoritative list players consult to resolve a
// human-readable grabber name to its current session id.
package registry

import (
	"context"
	"sync"
	"time"

	"streamrelay/internal/domain"
)

// PeerRegistry is the storage port every signaling session depends on.
// Implementations must be safe for concurrent use and linearizable per key.
type PeerRegistry interface {
	// Add registers name under session, overwriting any prior live publisher
	// with the same name.
	Add(ctx context.Context, name string, sessionID domain.SessionID) error
	GetByName(ctx context.Context, name string) (domain.PeerStatus, bool, error)
	// UpdatePing scans for the entry whose SessionID matches sessionID and
	// refreshes its connection count, stream types, online flag, and ping
	// timestamp. It is a no-op (not an error) if no such session is known.
	UpdatePing(ctx context.Context, sessionID domain.SessionID, connections int, streamTypes []string) error
	// RemoveBySession deletes the entry (if any) whose SessionID matches.
	RemoveBySession(ctx context.Context, sessionID domain.SessionID) error
	ListAll(ctx context.Context) ([]domain.PeerStatus, error)
}

// Memory is a sync.RWMutex-guarded map keyed by name, the reference
// implementation of PeerRegistry.
type Memory struct {
	mu    sync.RWMutex
	peers map[string]domain.PeerStatus
}

// NewMemory constructs an empty in-memory peer registry.
func NewMemory() *Memory {
	return &Memory{peers: make(map[string]domain.PeerStatus)}
}

func (m *Memory) Add(_ context.Context, name string, sessionID domain.SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers[name] = domain.PeerStatus{
		Name:          name,
		SessionID:     sessionID,
		Online:        true,
		LastPingEpoch: time.Now().Unix(),
	}
	return nil
}

func (m *Memory) GetByName(_ context.Context, name string) (domain.PeerStatus, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.peers[name]
	return status, ok, nil
}

func (m *Memory) UpdatePing(_ context.Context, sessionID domain.SessionID, connections int, streamTypes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, status := range m.peers {
		if status.SessionID != sessionID {
			continue
		}
		status.Connections = connections
		status.StreamTypes = streamTypes
		status.Online = true
		status.LastPingEpoch = time.Now().Unix()
		m.peers[name] = status
		return nil
	}
	return nil
}

func (m *Memory) RemoveBySession(_ context.Context, sessionID domain.SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, status := range m.peers {
		if status.SessionID == sessionID {
			delete(m.peers, name)
		}
	}
	return nil
}

func (m *Memory) ListAll(_ context.Context) ([]domain.PeerStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.PeerStatus, 0, len(m.peers))
	for _, status := range m.peers {
		out = append(out, status)
	}
	return out, nil
}
