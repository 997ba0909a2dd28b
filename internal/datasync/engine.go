package datasync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/campuskit/attendance/internal/biometric"
	"github.com/campuskit/attendance/internal/cache"
	"github.com/campuskit/attendance/internal/model"
)

const (
	defaultHashTableTTL  = 5 * time.Minute
	defaultMatchCacheTTL = 2 * time.Minute
	defaultLockWait      = 5 * time.Second

	opSmartSync    = "templates.smart_sync"
	opForceSync    = "templates.force_sync"
	opAuthenticate = "templates.authenticate"
)

// TemplateStore is the slice of the local store the engine writes to.
type TemplateStore interface {
	TemplateDigests(ctx context.Context) (map[string]string, error)
	CachedTemplates(ctx context.Context) ([]model.CachedTemplate, error)
	EnsureStudent(ctx context.Context, regNo, name, className string) error
	UpsertTemplate(ctx context.Context, regNo string, tpl model.FingerprintTemplate, digest string) error
}

// TemplateSource provides the remote snapshot of all enrolled templates.
type TemplateSource interface {
	ListTemplates(ctx context.Context) ([]model.StudentTemplates, error)
}

// EngineConfig wires the incremental template sync engine.
type EngineConfig struct {
	Store    TemplateStore
	Source   TemplateSource
	Verifier biometric.Verifier
	// MinMatchScore gates Authenticate candidates (0-100).
	MinMatchScore int
	// MaxFAR rejects Authenticate candidates above this false-accept-rate.
	MaxFAR        float64
	HashTableTTL  time.Duration
	MatchCacheTTL time.Duration
	// LockWait bounds how long a sync call waits for the in-progress
	// sync before failing fast.
	LockWait time.Duration
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Engine keeps the local template copy fresh relative to the remote
// source of truth without re-downloading unchanged templates, and matches
// captured samples against the flattened local cache.
type Engine struct {
	store    TemplateStore
	source   TemplateSource
	verifier biometric.Verifier
	minScore int
	maxFAR   float64

	hashTTL  time.Duration
	matchTTL time.Duration
	lockWait time.Duration

	// lock enforces at most one concurrent full sync. Callers that
	// cannot acquire it within lockWait fail fast instead of queueing.
	lock *semaphore.Weighted

	hashTable  *cache.Entry[map[string]string]
	matchCache *cache.Entry[[]model.CachedTemplate]

	statsMu sync.Mutex
	last    SyncStats

	logger *zap.Logger
	clock  func() time.Time
}

// NewEngine validates the wiring and builds an engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("template store is required")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("template source is required")
	}
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("verifier is required")
	}

	hashTTL := cfg.HashTableTTL
	if hashTTL <= 0 {
		hashTTL = defaultHashTableTTL
	}
	matchTTL := cfg.MatchCacheTTL
	if matchTTL <= 0 {
		matchTTL = defaultMatchCacheTTL
	}
	lockWait := cfg.LockWait
	if lockWait <= 0 {
		lockWait = defaultLockWait
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Engine{
		store:      cfg.Store,
		source:     cfg.Source,
		verifier:   cfg.Verifier,
		minScore:   cfg.MinMatchScore,
		maxFAR:     cfg.MaxFAR,
		hashTTL:    hashTTL,
		matchTTL:   matchTTL,
		lockWait:   lockWait,
		lock:       semaphore.NewWeighted(1),
		hashTable:  cache.New[map[string]string](),
		matchCache: cache.New[[]model.CachedTemplate](),
		logger:     logger,
		clock:      clock,
	}, nil
}

// TemplateDigest computes the hex SHA-256 of template bytes. Hashing the
// same bytes twice always yields the same digest, which is what lets the
// sync skip unchanged rows.
func TemplateDigest(template []byte) string {
	sum := sha256.Sum256(template)
	return hex.EncodeToString(sum[:])
}

// SmartSync applies only new or changed templates from the remote
// snapshot, comparing content digests against the local hash table.
func (e *Engine) SmartSync(ctx context.Context) SyncStats {
	return e.run(ctx, opSmartSync, false)
}

// ForceSync discards the hash table first so every remote template is
// re-evaluated as new or changed.
func (e *Engine) ForceSync(ctx context.Context) SyncStats {
	return e.run(ctx, opForceSync, true)
}

func (e *Engine) run(ctx context.Context, operation string, force bool) SyncStats {
	lockCtx, cancel := context.WithTimeout(ctx, e.lockWait)
	defer cancel()
	if err := e.lock.Acquire(lockCtx, 1); err != nil {
		e.logger.Warn("sync lock unavailable", zap.String("operation", operation))
		return SyncStats{Code: CodeSyncInProgress, Message: "sync already in progress"}
	}
	defer e.lock.Release(1)

	stats, code, err := e.syncLocked(ctx, force)
	if err != nil {
		e.logger.Error("template sync failed", zap.String("operation", operation), zap.Error(err))
		return SyncStats{Code: code, Message: err.Error()}
	}

	e.statsMu.Lock()
	e.last = stats
	e.statsMu.Unlock()

	e.logger.Info("template sync complete",
		zap.String("operation", operation),
		zap.Int("new", stats.New),
		zap.Int("updated", stats.Updated),
		zap.Int("skipped", stats.Skipped),
		zap.Int("students", stats.StudentCount))
	return stats
}

// syncLocked returns the failure code alongside the error so store-side
// failures surface as internal rather than network.
func (e *Engine) syncLocked(ctx context.Context, force bool) (SyncStats, string, error) {
	var hashes map[string]string
	if force {
		e.hashTable.Invalidate()
		hashes = map[string]string{}
	} else {
		loaded, err := e.loadHashTable(ctx)
		if err != nil {
			return SyncStats{}, CodeInternal, err
		}
		hashes = loaded
	}

	snapshot, err := e.source.ListTemplates(ctx)
	if err != nil {
		return SyncStats{}, CodeNetwork, fmt.Errorf("fetch remote snapshot: %w", err)
	}

	stats := SyncStats{Success: true}
	ensured := map[string]bool{}
	seen := map[string]bool{}

	for _, student := range snapshot {
		seen[student.RegNo] = true
		for _, tpl := range student.Templates {
			if len(tpl.Template) == 0 {
				continue
			}
			if err := ctx.Err(); err != nil {
				return SyncStats{}, CodeInternal, err
			}

			key := model.HashKey(student.RegNo, tpl.FingerIndex)
			digest := TemplateDigest(tpl.Template)
			previous, known := hashes[key]
			if known && previous == digest {
				stats.Skipped++
				continue
			}

			if !ensured[student.RegNo] {
				if err := e.store.EnsureStudent(ctx, student.RegNo, "", ""); err != nil {
					return SyncStats{}, CodeInternal, fmt.Errorf("ensure student %s: %w", student.RegNo, err)
				}
				ensured[student.RegNo] = true
			}

			tpl.FingerName = model.NormalizeFingerName(tpl.FingerName)
			if tpl.CapturedAt.IsZero() {
				tpl.CapturedAt = e.clock().UTC()
			}
			if err := e.store.UpsertTemplate(ctx, student.RegNo, tpl, digest); err != nil {
				return SyncStats{}, CodeInternal, fmt.Errorf("upsert template %s: %w", key, err)
			}

			if known {
				stats.Updated++
			} else {
				stats.New++
			}
			hashes[key] = digest
		}
	}

	stats.StudentCount = len(seen)
	stats.TemplateCount = stats.New + stats.Updated + stats.Skipped
	stats.LastSync = e.clock().UTC()

	e.hashTable.Set(hashes, e.hashTTL)
	// Leave the match cache alone when nothing changed so readers keep
	// the warm snapshot.
	if stats.New+stats.Updated > 0 {
		e.matchCache.Invalidate()
	}

	return stats, "", nil
}

func (e *Engine) loadHashTable(ctx context.Context) (map[string]string, error) {
	if cached, ok := e.hashTable.Get(); ok {
		// Work on a copy so the cached snapshot is replaced whole, never
		// mutated under readers.
		clone := make(map[string]string, len(cached))
		for key, digest := range cached {
			clone[key] = digest
		}
		return clone, nil
	}

	rebuilt, err := e.store.TemplateDigests(ctx)
	if err != nil {
		return nil, fmt.Errorf("rebuild hash table: %w", err)
	}
	e.hashTable.Set(rebuilt, e.hashTTL)

	clone := make(map[string]string, len(rebuilt))
	for key, digest := range rebuilt {
		clone[key] = digest
	}
	return clone, nil
}

// Authenticate identifies a captured sample against the flattened local
// template cache, refreshing it from the store when stale.
func (e *Engine) Authenticate(ctx context.Context, sample []byte) MatchResult {
	if len(sample) == 0 {
		return MatchResult{Code: CodeValidation, Message: "empty fingerprint sample"}
	}

	entries, ok := e.matchCache.Get()
	if !ok {
		rebuilt, err := e.store.CachedTemplates(ctx)
		if err != nil {
			e.logger.Error("match cache rebuild failed", zap.String("operation", opAuthenticate), zap.Error(err))
			return MatchResult{Code: CodeInternal, Message: err.Error()}
		}
		e.matchCache.Set(rebuilt, e.matchTTL)
		entries = rebuilt
	}

	match, found, err := Identify(ctx, e.verifier, sample, entries, e.minScore, e.maxFAR)
	if err != nil {
		e.logger.Error("identification aborted", zap.String("operation", opAuthenticate), zap.Error(err))
		return MatchResult{Code: CodeInternal, Message: err.Error()}
	}
	if !found {
		return MatchResult{Code: CodeNotRecognized, Message: "fingerprint not recognized"}
	}

	return MatchResult{
		Success:     true,
		RegNo:       match.RegNo,
		StudentName: match.StudentName,
		FingerIndex: match.FingerIndex,
		Score:       match.Score,
		FAR:         match.FAR,
	}
}

// LastStats returns the most recent successful sync summary.
func (e *Engine) LastStats() SyncStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.last
}

// RunLoop runs SmartSync immediately and then on a fixed interval until
// the context is cancelled. A failed cycle is logged and never terminates
// the loop.
func (e *Engine) RunLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	e.SmartSync(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.SmartSync(ctx)
		}
	}
}
