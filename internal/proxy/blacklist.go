package proxy

import (
	"sync"
	"time"
)

type blacklistEntry struct {
	token     string
	reason    string
	expiresAt time.Time
}

// Blacklist is a bounded, TTL-evicted set of proxy session tokens that
// received an auth or blocking response. Blacklisted tokens are never
// reissued for the lifetime of their entry. Shared across all jobs; all
// mutation happens under the mutex.
type Blacklist struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]blacklistEntry
	order    []string
	now      func() time.Time
}

// NewBlacklist constructs a blacklist holding at most capacity tokens, each
// for at most ttl.
func NewBlacklist(capacity int, ttl time.Duration) *Blacklist {
	if capacity <= 0 {
		capacity = 512
	}
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &Blacklist{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]blacklistEntry),
		now:      time.Now,
	}
}

// Add records a token with the given reason. When full, the oldest entry is
// evicted to make room.
func (b *Blacklist) Add(token, reason string) {
	if token == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evictExpiredLocked()
	if _, exists := b.entries[token]; !exists {
		for len(b.entries) >= b.capacity && len(b.order) > 0 {
			oldest := b.order[0]
			b.order = b.order[1:]
			delete(b.entries, oldest)
		}
		b.order = append(b.order, token)
	}
	b.entries[token] = blacklistEntry{token: token, reason: reason, expiresAt: b.now().Add(b.ttl)}
}

// Contains reports whether the token is currently blacklisted.
func (b *Blacklist) Contains(token string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evictExpiredLocked()
	_, ok := b.entries[token]
	return ok
}

// Len returns the number of live entries.
func (b *Blacklist) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evictExpiredLocked()
	return len(b.entries)
}

func (b *Blacklist) evictExpiredLocked() {
	if len(b.entries) == 0 {
		return
	}
	now := b.now()
	kept := b.order[:0]
	for _, token := range b.order {
		entry, ok := b.entries[token]
		if !ok {
			continue
		}
		if now.After(entry.expiresAt) {
			delete(b.entries, token)
			continue
		}
		kept = append(kept, token)
	}
	b.order = kept
}
