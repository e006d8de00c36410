package service

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rardoz/witchly-app-api-sub002/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// --- Error Definitions ---
var (
	ErrMalformedUploadID = errors.New("malformed upload id")
	ErrSessionNotFound   = errors.New("upload session not found")
	ErrSessionExpired    = errors.New("upload session expired")
	ErrSessionFinished   = errors.New("upload session already finished")
)

// sessionEntry pairs a session with its own lock. Every mutation of the
// session passes through this lock; entries for different sessions share
// no critical section.
type sessionEntry struct {
	mu      sync.Mutex
	session *domain.UploadSession
}

// abandonedUpload identifies a storage-side multipart upload left behind
// by an expired or failed session, so the sweeper can abort it.
type abandonedUpload struct {
	UploadID      string
	StorageKey    string
	StorageHandle string
}

// SessionRegistry is the single source of truth for in-flight upload
// sessions. It is an indexed table keyed by uploadId with per-key mutual
// exclusion, not a single global lock: the registry lock only guards the
// map itself, never a session's state.
type SessionRegistry struct {
	mu        sync.RWMutex
	entries   map[string]*sessionEntry
	ttl       time.Duration
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewSessionRegistry creates a registry whose sessions expire after
// sitting idle for ttl. Terminal sessions are kept for twice the ttl
// before being purged.
func NewSessionRegistry(ttl time.Duration, logger *zap.Logger) *SessionRegistry {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SessionRegistry{
		entries:   make(map[string]*sessionEntry),
		ttl:       ttl,
		retention: 2 * ttl,
		logger:    logger,
		now:       time.Now,
	}
}

// Register inserts a freshly initialized session into the table.
func (r *SessionRegistry) Register(session *domain.UploadSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[session.UploadID] = &sessionEntry{session: session}
}

// WithSession looks up the session and runs fn with its lock held. A
// syntactically invalid uploadId fails with ErrMalformedUploadID before
// the table is consulted; a well-formed but unknown id fails with
// ErrSessionNotFound. Idle sessions are lazily expired before fn runs.
func (r *SessionRegistry) WithSession(uploadID string, fn func(*domain.UploadSession) error) error {
	if _, err := uuid.Parse(uploadID); err != nil {
		return fmt.Errorf("%w: %q", ErrMalformedUploadID, uploadID)
	}

	r.mu.RLock()
	entry, ok := r.entries[uploadID]
	r.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	r.expireIfIdle(entry.session)
	return fn(entry.session)
}

// expireIfIdle marks an uploading session expired once its lastUpdated is
// older than the TTL. Caller must hold the entry lock.
func (r *SessionRegistry) expireIfIdle(session *domain.UploadSession) {
	if session.Status != domain.UploadStatusUploading {
		return
	}
	if r.now().Sub(session.LastUpdated) > r.ttl {
		session.Status = domain.UploadStatusExpired
		if r.logger != nil {
			r.logger.Info("upload session expired",
				zap.String("uploadId", session.UploadID),
				zap.Time("lastUpdated", session.LastUpdated))
		}
	}
}

// expireIdle sweeps the table, expiring idle sessions, and returns the
// storage handles of expired or failed sessions whose multipart upload
// has not yet been aborted.
func (r *SessionRegistry) expireIdle() []abandonedUpload {
	r.mu.RLock()
	entries := make([]*sessionEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var pending []abandonedUpload
	for _, e := range entries {
		e.mu.Lock()
		r.expireIfIdle(e.session)
		s := e.session
		needsAbort := (s.Status == domain.UploadStatusExpired || s.Status == domain.UploadStatusFailed) &&
			!s.Compensated && s.StorageHandle != ""
		if needsAbort {
			pending = append(pending, abandonedUpload{
				UploadID:      s.UploadID,
				StorageKey:    s.StorageKey,
				StorageHandle: s.StorageHandle,
			})
		}
		e.mu.Unlock()
	}
	return pending
}

// markCompensated records that the storage-side upload of the session has
// been aborted, so the sweeper stops retrying it.
func (r *SessionRegistry) markCompensated(uploadID string) {
	r.mu.RLock()
	entry, ok := r.entries[uploadID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	entry.mu.Lock()
	entry.session.Compensated = true
	entry.mu.Unlock()
}

// purgeTerminal drops terminal sessions whose retention window has passed
// and returns how many were removed. Sessions still owing a storage-side
// abort are kept so the sweeper can finish the compensation.
//
// Candidates are inspected under their entry locks without holding the
// registry lock; a session stuck in a slow finalize must not stall
// lookups of unrelated sessions behind the write lock. Terminal states
// never revert, so a candidate observed purgeable stays purgeable.
func (r *SessionRegistry) purgeTerminal() int {
	cutoff := r.now().Add(-r.retention)

	r.mu.RLock()
	candidates := make(map[string]*sessionEntry, len(r.entries))
	for id, e := range r.entries {
		candidates[id] = e
	}
	r.mu.RUnlock()

	var purgeable []string
	for id, e := range candidates {
		e.mu.Lock()
		s := e.session
		ok := s.Status.Terminal() && s.LastUpdated.Before(cutoff) &&
			(s.Compensated || s.Status == domain.UploadStatusCompleted)
		e.mu.Unlock()
		if ok {
			purgeable = append(purgeable, id)
		}
	}
	if len(purgeable) == 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for _, id := range purgeable {
		if _, ok := r.entries[id]; ok {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
