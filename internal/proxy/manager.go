package proxy

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iamadamzc/TLDW-sub001/internal/logging"
	"github.com/iamadamzc/TLDW-sub001/internal/services"
)

// Options tunes the session manager.
type Options struct {
	SessionTTL time.Duration
	Blacklist  *Blacklist
	Logger     *slog.Logger
	Now        func() time.Time
}

// Manager issues, caches, and rotates sticky proxy sessions. One active
// session per job; the session store is keyed by job so cross-job
// contention is limited to the shared blacklist.
type Manager struct {
	secret  Secret
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time
	counter atomic.Uint64

	mu       sync.Mutex
	sessions map[string]*Session

	blacklist *Blacklist
}

// NewManager validates the secret and constructs a session manager. A bad
// secret is a configuration error: the whole process must refuse to run
// jobs rather than fall through to the audio stage with no working proxy.
func NewManager(secret Secret, opts Options) (*Manager, error) {
	if err := secret.Validate(); err != nil {
		return nil, err
	}
	ttl := opts.SessionTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	blacklist := opts.Blacklist
	if blacklist == nil {
		blacklist = NewBlacklist(512, 6*time.Hour)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		secret:    secret,
		ttl:       ttl,
		logger:    logging.NewComponentLogger(opts.Logger, "proxy"),
		now:       now,
		sessions:  make(map[string]*Session),
		blacklist: blacklist,
	}, nil
}

// Acquire returns the job's current session, creating one lazily on first
// use.
func (m *Manager) Acquire(jobID string) (*Session, error) {
	if jobID == "" {
		return nil, services.Wrap(services.ErrConfiguration, "proxy", "acquire", "job id is empty", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[jobID]; ok {
		sess.Touch(m.now())
		return sess, nil
	}
	sess, err := m.issueLocked(jobID)
	if err != nil {
		return nil, err
	}
	m.sessions[jobID] = sess
	return sess, nil
}

// Rotate invalidates the job's current session, blacklists its token, and
// issues a fresh non-blacklisted identity. The rotation is always logged
// with masked identities only.
func (m *Manager) Rotate(jobID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	previous := m.sessions[jobID]
	if previous != nil {
		m.blacklist.Add(previous.ID, "rotated")
	}

	fresh, err := m.issueLocked(jobID)
	if err != nil {
		return nil, err
	}
	m.sessions[jobID] = fresh

	prevMasked := "none"
	if previous != nil {
		prevMasked = previous.Masked()
	}
	m.logger.Info("rotated proxy session",
		logging.String(logging.FieldJobID, jobID),
		logging.String("previous_session", prevMasked),
		logging.String(logging.FieldProxySession, fresh.Masked()),
	)
	return fresh, nil
}

// MarkFailure blacklists the job's current session token with the given
// reason (auth failure, blocking response) so it is never reissued.
func (m *Manager) MarkFailure(jobID, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[jobID]; ok {
		sess.FailureCount++
		m.blacklist.Add(sess.ID, reason)
	}
}

// Release drops the job's session. Idempotent.
func (m *Manager) Release(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, jobID)
}

// SweepExpired evicts sessions idle past the TTL and returns how many were
// removed. The daemon runs this on a background ticker.
func (m *Manager) SweepExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-m.ttl)
	removed := 0
	for jobID, sess := range m.sessions {
		last := sess.LastUsedAt
		if last.IsZero() {
			last = sess.CreatedAt
		}
		if last.Before(cutoff) {
			delete(m.sessions, jobID)
			removed++
		}
	}
	return removed
}

// issueLocked derives a deterministic, non-blacklisted session identity from
// the job id plus a process-wide monotonic counter. Callers hold m.mu.
func (m *Manager) issueLocked(jobID string) (*Session, error) {
	jobHash := shortHash(jobID)
	for attempts := 0; attempts < 64; attempts++ {
		id := fmt.Sprintf("%s%d", jobHash, m.counter.Add(1))
		if m.blacklist.Contains(id) {
			continue
		}
		now := m.now()
		return &Session{
			ID:         id,
			JobID:      jobID,
			URL:        m.secret.BuildURL(id),
			CreatedAt:  now,
			LastUsedAt: now,
			customerID: m.secret.CustomerID,
		}, nil
	}
	return nil, services.Wrap(services.ErrConfiguration, "proxy", "issue session", "exhausted session identities for job", nil)
}

func shortHash(jobID string) string {
	sum := sha1.Sum([]byte(jobID))
	return hex.EncodeToString(sum[:4])
}
