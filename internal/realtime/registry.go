package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Session is one live transport binding for a user. Deliver must not block
// the caller; implementations queue and write from their own goroutine.
type Session interface {
	Deliver(evt Event) error
	Shutdown(reason string)
}

// ParticipantSource resolves a conversation's participant set for fan-out.
type ParticipantSource interface {
	Participants(ctx context.Context, conversationID string) ([]string, error)
}

// AlertPolicy decides whether a delivered event should interrupt the
// recipient.
type AlertPolicy interface {
	ShouldAlert(recipientID string, evt Event) bool
}

// ConnectionObserver is notified after registry state changed. Callbacks run
// outside the registry lock.
type ConnectionObserver interface {
	UserConnected(userID string, at time.Time)
	UserDisconnected(userID string, at time.Time)
}

// Registry maps an authenticated user to at most one live session. It is the
// substrate every broadcast goes through; delivery to a missing session is
// expected steady-state, not an error.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]Session
	observers []ConnectionObserver

	participants ParticipantSource
	alerts       AlertPolicy
	logger       *slog.Logger
	now          func() time.Time
}

func NewRegistry(participants ParticipantSource, logger *slog.Logger) *Registry {
	return &Registry{
		sessions:     make(map[string]Session),
		participants: participants,
		logger:       logger,
		now:          time.Now,
	}
}

// Subscribe adds an observer for connect/disconnect events.
func (r *Registry) Subscribe(obs ConnectionObserver) {
	if obs == nil {
		return
	}
	r.mu.Lock()
	r.observers = append(r.observers, obs)
	r.mu.Unlock()
}

// SetAlertPolicy installs the notification router. Separate from the
// constructor because the router also observes the registry.
func (r *Registry) SetAlertPolicy(policy AlertPolicy) {
	r.mu.Lock()
	r.alerts = policy
	r.mu.Unlock()
}

// Register binds the session for the user, atomically replacing any prior
// one. The replaced session is shut down so two sessions never receive
// duplicate broadcasts. Replacement does not count as a disconnect.
func (r *Registry) Register(userID string, sess Session) {
	r.mu.Lock()
	prior := r.sessions[userID]
	r.sessions[userID] = sess
	observers := r.snapshotObservers()
	r.mu.Unlock()

	if prior != nil {
		prior.Shutdown("session replaced")
	}
	at := r.now().UTC()
	for _, obs := range observers {
		obs.UserConnected(userID, at)
	}
	if r.logger != nil {
		r.logger.Debug("session registered", "user_id", userID, "replaced", prior != nil)
	}
}

// Unregister removes the binding only if it still points at sess, so a stale
// close arriving after a replacement is a no-op.
func (r *Registry) Unregister(userID string, sess Session) {
	r.mu.Lock()
	current, ok := r.sessions[userID]
	removed := ok && current == sess
	if removed {
		delete(r.sessions, userID)
	}
	observers := r.snapshotObservers()
	r.mu.Unlock()

	if !removed {
		return
	}
	at := r.now().UTC()
	for _, obs := range observers {
		obs.UserDisconnected(userID, at)
	}
	if r.logger != nil {
		r.logger.Debug("session unregistered", "user_id", userID)
	}
}

// SessionFor returns the user's live session, if any.
func (r *Registry) SessionFor(userID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[userID]
	return sess, ok
}

// SendToUser delivers one event to the user's session. Returns false when the
// user has no session; that is not an error.
func (r *Registry) SendToUser(userID string, evt Event) bool {
	sess, ok := r.SessionFor(userID)
	if !ok {
		return false
	}
	if err := sess.Deliver(evt); err != nil {
		if r.logger != nil {
			r.logger.Warn("event delivery failed", "user_id", userID, "type", evt.Type, "error", err)
		}
		return false
	}
	return true
}

// BroadcastToConversation fans the event out to every participant's current
// session, skipping the given user ids (typically the originator) and anyone
// offline. The alert flag is decided per recipient.
func (r *Registry) BroadcastToConversation(ctx context.Context, conversationID string, evt Event, skip ...string) error {
	ids, err := r.participants.Participants(ctx, conversationID)
	if err != nil {
		return err
	}
	skipped := make(map[string]struct{}, len(skip))
	for _, id := range skip {
		skipped[id] = struct{}{}
	}
	r.mu.RLock()
	alerts := r.alerts
	r.mu.RUnlock()
	for _, id := range ids {
		if _, ok := skipped[id]; ok {
			continue
		}
		out := evt
		if alerts != nil {
			out.Alert = alerts.ShouldAlert(id, evt)
		}
		r.SendToUser(id, out)
	}
	return nil
}

// BroadcastAll delivers the event to every connected session.
func (r *Registry) BroadcastAll(evt Event) {
	r.mu.RLock()
	sessions := make([]Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.RUnlock()
	for _, sess := range sessions {
		_ = sess.Deliver(evt)
	}
}

// ActiveSessions reports the number of live bindings.
func (r *Registry) ActiveSessions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) snapshotObservers() []ConnectionObserver {
	out := make([]ConnectionObserver, len(r.observers))
	copy(out, r.observers)
	return out
}
