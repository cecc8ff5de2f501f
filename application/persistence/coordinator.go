// Package persistence flushes a replica to the persistence service.
//
// Dirty marks are debounced into one flush per window. Flushes run one at a
// time and snapshot the replica when they start, so a mark made during a
// flush is picked up by the next one. A failed flush keeps the document
// dirty and is not retried; the next mark or an explicit save supersedes it.
package persistence

import (
	"context"
	"sync"
	"time"

	"diagramsync/application/ports"
	"diagramsync/application/replica"
	"diagramsync/domain/config"
	"diagramsync/domain/core/aggregates"
	"diagramsync/domain/versioning"
	pkgerrors "diagramsync/pkg/errors"
	"diagramsync/pkg/utils"

	"go.uber.org/zap"
)

// Status is a point in time view of the coordinator
type Status struct {
	Dirty       bool
	Saving      bool
	Version     uint64
	LastSavedAt time.Time
	LastError   error
}

// Result is reported after every flush attempt that reached the store
type Result struct {
	Version  uint64
	Checksum string
	Explicit bool
	Duration time.Duration
	Err      error
}

// Coordinator owns the save cycle of one replica
type Coordinator struct {
	store       ports.DocumentStore
	replica     *replica.Replica
	modifiedBy  string
	saveTimeout time.Duration
	debounce    *utils.Debouncer
	logger      *zap.Logger

	flushMu sync.Mutex

	mu           sync.Mutex
	dirty        bool
	saving       bool
	lastErr      error
	lastChecksum string
	lastRemote   uint64
	lastSavedAt  time.Time
	onResult     func(Result)
}

// NewCoordinator creates a coordinator saving on behalf of modifiedBy
func NewCoordinator(
	store ports.DocumentStore,
	r *replica.Replica,
	modifiedBy string,
	cfg *config.DomainConfig,
	logger *zap.Logger,
) *Coordinator {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:       store,
		replica:     r,
		modifiedBy:  modifiedBy,
		saveTimeout: cfg.SaveTimeout,
		debounce:    utils.NewDebouncer(cfg.SaveDelay),
		logger:      logger.With(zap.String("documentId", r.DocumentID().String())),
	}
}

// OnResult installs a callback invoked after each flush attempt
func (c *Coordinator) OnResult(fn func(Result)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onResult = fn
}

// Seed records the checksum and remote generation of the state the replica
// was loaded with, so an unchanged replica is not saved back.
func (c *Coordinator) Seed(checksum string, remote uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastChecksum = checksum
	c.lastRemote = remote
}

// MarkDirty records unsaved local changes and schedules a flush
func (c *Coordinator) MarkDirty() {
	c.mu.Lock()
	c.dirty = true
	c.mu.Unlock()

	c.debounce.Trigger(c.flushInBackground)
}

// Dirty reports whether the replica holds unsaved changes
func (c *Coordinator) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// Save flushes now, even when nothing changed since the last save. It waits
// for a flush already in flight.
func (c *Coordinator) Save(ctx context.Context) error {
	c.debounce.Cancel()
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.saveTimeout)
		defer cancel()
	}
	return c.flush(ctx, true)
}

// Drain runs a scheduled flush immediately and waits for any flush in
// flight to finish.
func (c *Coordinator) Drain() {
	c.debounce.Flush()
	c.flushMu.Lock()
	c.flushMu.Unlock()
}

// Close cancels a scheduled flush. A flush in flight is not aborted.
func (c *Coordinator) Close() {
	if c.debounce.Cancel() {
		c.logger.Info("Cancelled scheduled save", zap.Bool("dirty", c.Dirty()))
	}
	c.debounce.Stop()
}

// Status returns the current save state
func (c *Coordinator) Status() Status {
	version := c.replica.Version()

	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Dirty:       c.dirty,
		Saving:      c.saving,
		Version:     version,
		LastSavedAt: c.lastSavedAt,
		LastError:   c.lastErr,
	}
}

func (c *Coordinator) flushInBackground() {
	ctx, cancel := context.WithTimeout(context.Background(), c.saveTimeout)
	defer cancel()

	if err := c.flush(ctx, false); err != nil {
		c.logger.Warn("Background save failed", zap.Error(err))
	}
}

func (c *Coordinator) flush(ctx context.Context, explicit bool) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	if !c.dirty && !explicit {
		c.mu.Unlock()
		return nil
	}
	lastChecksum, lastRemote := c.lastChecksum, c.lastRemote
	c.dirty = false
	c.mu.Unlock()

	snapshot, remote := c.replica.Capture(c.modifiedBy)
	checksum, err := versioning.Checksum(snapshot.Nodes, snapshot.Edges)
	if err != nil {
		c.fail(err)
		return pkgerrors.NewInternalError("failed to checksum snapshot").WithCause(err)
	}
	// A matching checksum only proves nothing changed when no remote change
	// was applied since; otherwise the server may hold someone else's save.
	if !explicit && checksum == lastChecksum && remote == lastRemote {
		c.logger.Debug("Skipping save of unchanged snapshot", zap.String("checksum", checksum))
		return nil
	}

	c.mu.Lock()
	c.saving = true
	c.mu.Unlock()

	start := time.Now()
	result, err := c.store.Save(ctx, snapshot.DocumentID, snapshot)
	duration := time.Since(start)

	if err != nil {
		err = c.classify(ctx, err)
		c.fail(err)
		c.report(Result{Checksum: checksum, Explicit: explicit, Duration: duration, Err: err})
		c.logger.Error("Save failed",
			zap.Bool("explicit", explicit),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return err
	}

	c.replica.Do(func(doc *aggregates.Document) error {
		if !doc.ApplySaved(result, snapshot.Metadata) {
			c.logger.Warn("Ignoring stale save version",
				zap.Uint64("version", result.Version),
				zap.Uint64("current", doc.Version()),
			)
		}
		return nil
	})

	c.mu.Lock()
	c.saving = false
	c.lastErr = nil
	c.lastChecksum = checksum
	c.lastRemote = remote
	c.lastSavedAt = result.UpdatedAt
	c.mu.Unlock()

	c.report(Result{Version: result.Version, Checksum: checksum, Explicit: explicit, Duration: duration})
	c.logger.Info("Saved document",
		zap.Uint64("version", result.Version),
		zap.Int("nodeCount", len(snapshot.Nodes)),
		zap.Int("edgeCount", len(snapshot.Edges)),
		zap.Duration("duration", duration),
	)
	return nil
}

func (c *Coordinator) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirty = true
	c.saving = false
	c.lastErr = err
}

func (c *Coordinator) report(r Result) {
	c.mu.Lock()
	fn := c.onResult
	c.mu.Unlock()
	if fn != nil {
		fn(r)
	}
}

// classify turns a store failure into a recoverable application error
func (c *Coordinator) classify(ctx context.Context, err error) error {
	if pkgerrors.GetAppError(err) != nil {
		return err
	}
	if ctx.Err() == context.DeadlineExceeded {
		return pkgerrors.NewTimeoutError("save document").WithCause(err)
	}
	return pkgerrors.NewStorageError("save document", err)
}
