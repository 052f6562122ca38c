package assistant

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultNotificationTTL = 5 * time.Second

// Notifier holds the single visible notification. A newer one replaces the older one.
type Notifier struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	current  *Notification
	timer    *time.Timer
	onChange func()
}

func NewNotifier(ttl time.Duration, now func() time.Time, onChange func()) *Notifier {
	if ttl <= 0 {
		ttl = DefaultNotificationTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Notifier{ttl: ttl, now: now, onChange: onChange}
}

func (n *Notifier) Show(message string, severity Severity) Notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	note := Notification{
		ID:        uuid.NewString(),
		Message:   message,
		Severity:  severity,
		ExpiresAt: n.now().Add(n.ttl),
	}
	n.current = &note
	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = time.AfterFunc(n.ttl, func() { n.dismiss(note.ID) })
	return note
}

// Current returns the visible notification, or nil once it has expired.
func (n *Notifier) Current() *Notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.current == nil || !n.now().Before(n.current.ExpiresAt) {
		return nil
	}
	note := *n.current
	return &note
}

func (n *Notifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}

func (n *Notifier) dismiss(id string) {
	n.mu.Lock()
	if n.current == nil || n.current.ID != id {
		n.mu.Unlock()
		return
	}
	n.current = nil
	n.timer = nil
	onChange := n.onChange
	n.mu.Unlock()

	if onChange != nil {
		onChange()
	}
}
