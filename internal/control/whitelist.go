package control

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxUsers bounds the whitelist; creating a user beyond it evicts the oldest.
const MaxUsers = 16

type user struct {
	name     string
	devType  string
	created  time.Time
	lastUsed time.Time
}

// Whitelist holds the usernames issued by the link-button flow. It lives in
// memory only; clients re-pair after a restart when auth is required.
type Whitelist struct {
	mu    sync.Mutex
	users [MaxUsers]user
	n     int
	next  int
}

// Add issues a new username for devType.
func (w *Whitelist) Add(devType string, now time.Time) string {
	name := strings.ReplaceAll(uuid.NewString(), "-", "")

	w.mu.Lock()
	defer w.mu.Unlock()
	w.users[w.next] = user{name: name, devType: devType, created: now, lastUsed: now}
	w.next = (w.next + 1) % MaxUsers
	if w.n < MaxUsers {
		w.n++
	}
	return name
}

// Touch reports whether name is whitelisted and records its use.
func (w *Whitelist) Touch(name string, now time.Time) bool {
	if name == "" {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := 0; i < w.n; i++ {
		if w.users[i].name == name {
			w.users[i].lastUsed = now
			return true
		}
	}
	return false
}

// Entries returns the whitelist in wire form.
func (w *Whitelist) Entries() map[string]WhitelistEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]WhitelistEntry, w.n)
	for i := 0; i < w.n; i++ {
		u := w.users[i]
		out[u.name] = WhitelistEntry{
			LastUseDate: formatTime(u.lastUsed),
			CreateDate:  formatTime(u.created),
			Name:        u.devType,
		}
	}
	return out
}

// clientKey is the 32 hex digit key issued when a client asks for one.
func clientKey() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}
