package paginate

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Muntasir-Arin/es-in-action/internal/index"
	"github.com/Muntasir-Arin/es-in-action/internal/search/evaluator"
	"github.com/Muntasir-Arin/es-in-action/pkg/config"
	apperrors "github.com/Muntasir-Arin/es-in-action/pkg/errors"
	"github.com/Muntasir-Arin/es-in-action/pkg/logger"
)

// ScrollStore is the arena of live scroll contexts. Each context pins the
// snapshot and the frozen ordered match set taken at creation, so every
// batch comes from the same point-in-time view regardless of concurrent
// mutations. Expiry is checked lazily on access, as is capacity reclamation.
type ScrollStore struct {
	mu       sync.Mutex
	cfg      config.ScrollConfig
	contexts map[string]*scrollContext
	expired  int64
	logger   *slog.Logger
	now      func() time.Time
}

type scrollContext struct {
	snap     *index.Snapshot
	matches  evaluator.MatchSet
	size     int
	offset   int
	ttl      time.Duration
	deadline time.Time
}

// NewScrollStore creates an empty scroll arena.
func NewScrollStore(cfg config.ScrollConfig) *ScrollStore {
	return &ScrollStore{
		cfg:      cfg,
		contexts: make(map[string]*scrollContext),
		logger:   logger.WithComponent("scroll-store"),
		now:      time.Now,
	}
}

// Create registers a new scroll context over the frozen snapshot and match
// set and returns its opaque handle. The TTL is clamped to the configured
// maximum; zero means the configured default.
func (s *ScrollStore) Create(snap *index.Snapshot, matches evaluator.MatchSet, size int, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}
	if s.cfg.MaxTTL > 0 && ttl > s.cfg.MaxTTL {
		ttl = s.cfg.MaxTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reapLocked()
	if s.cfg.MaxContexts > 0 && len(s.contexts) >= s.cfg.MaxContexts {
		return "", apperrors.Newf(apperrors.ErrInvalidInput, 429,
			"scroll context limit of %d reached", s.cfg.MaxContexts)
	}
	handle := uuid.NewString()
	s.contexts[handle] = &scrollContext{
		snap:     snap,
		matches:  matches,
		size:     size,
		ttl:      ttl,
		deadline: s.now().Add(ttl),
	}
	s.logger.Debug("scroll context created",
		"scroll_id", handle,
		"total", len(matches),
		"ttl", ttl,
	)
	return handle, nil
}

// Next returns the next batch of the frozen match set and refreshes the
// context's deadline. Successive calls never return overlapping documents.
// An elapsed TTL surfaces as ScrollExpired and destroys the context.
func (s *ScrollStore) Next(handle string) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, ok := s.contexts[handle]
	if !ok {
		return Page{}, apperrors.Newf(apperrors.ErrScrollNotFound, 404,
			"no scroll context %q", handle)
	}
	if s.now().After(ctx.deadline) {
		delete(s.contexts, handle)
		s.expired++
		return Page{}, apperrors.Newf(apperrors.ErrScrollExpired, 410,
			"scroll context %q expired", handle)
	}
	page := Offset(ctx.matches, ctx.offset, ctx.size)
	page.ScrollID = handle
	ctx.offset += len(page.Hits)
	ctx.deadline = s.now().Add(ctx.ttl)
	return page, nil
}

// Release destroys a scroll context, unpinning its snapshot. Releasing an
// unknown or already-expired handle reports false.
func (s *ScrollStore) Release(handle string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contexts[handle]; !ok {
		return false
	}
	delete(s.contexts, handle)
	return true
}

// Len returns the number of live contexts, reaping any whose TTL elapsed.
func (s *ScrollStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reapLocked()
	return len(s.contexts)
}

// ExpiredCount returns how many contexts have been reaped after expiry.
func (s *ScrollStore) ExpiredCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expired
}

func (s *ScrollStore) reapLocked() {
	now := s.now()
	for handle, ctx := range s.contexts {
		if now.After(ctx.deadline) {
			delete(s.contexts, handle)
			s.expired++
			s.logger.Debug("scroll context expired", "scroll_id", handle)
		}
	}
}
