package realtime

import (
	"sync"
	"time"
)

// PresenceRecord is a derived view over registry connect/disconnect events.
type PresenceRecord struct {
	Online       bool
	LastActiveAt time.Time
}

// PresenceTracker keeps online state and last-active timestamps. Purely
// event-driven; it never polls.
type PresenceTracker struct {
	mu      sync.RWMutex
	records map[string]PresenceRecord
	publish func(Event)
}

// NewPresenceTracker builds a tracker. publish, when non-nil, receives a
// presence:changed event after every transition (wired to
// Registry.BroadcastAll).
func NewPresenceTracker(publish func(Event)) *PresenceTracker {
	return &PresenceTracker{
		records: make(map[string]PresenceRecord),
		publish: publish,
	}
}

func (p *PresenceTracker) UserConnected(userID string, at time.Time) {
	p.mu.Lock()
	rec := PresenceRecord{Online: true, LastActiveAt: at}
	p.records[userID] = rec
	p.mu.Unlock()
	p.emit(userID, rec)
}

func (p *PresenceTracker) UserDisconnected(userID string, at time.Time) {
	p.mu.Lock()
	rec := PresenceRecord{Online: false, LastActiveAt: at}
	p.records[userID] = rec
	p.mu.Unlock()
	p.emit(userID, rec)
}

// IsOnline reports whether the user currently holds a session.
func (p *PresenceTracker) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.records[userID].Online
}

// LastActiveAt returns the user's last activity timestamp; zero when the user
// was never seen.
func (p *PresenceTracker) LastActiveAt(userID string) time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.records[userID].LastActiveAt
}

func (p *PresenceTracker) emit(userID string, rec PresenceRecord) {
	if p.publish == nil {
		return
	}
	p.publish(PresenceEvent(userID, rec.Online, rec.LastActiveAt))
}

var _ ConnectionObserver = (*PresenceTracker)(nil)
