package resolution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const instrumentationName = "github.com/fyrsmithlabs/resolvd/internal/resolution"

// writeCoalesceInterval bounds how often mutation-triggered snapshots hit
// disk. Bursts of writes collapse into one snapshot; the periodic ticker
// and shutdown flush pick up anything still pending.
const writeCoalesceInterval = 5 * time.Second

// Service is the error-resolution and fix-effectiveness tracker consumed
// by the external error-handling layer.
type Service interface {
	// MarkResolved records that a developer fixed the error identified by
	// signature, creating (or re-creating) its record.
	MarkResolved(ctx context.Context, signature string, res Resolution) (*Record, error)

	// ReResolve applies a fresh fix to a known signature after a recurrence.
	ReResolve(ctx context.Context, signature string, res Resolution) (*Record, error)

	// TrackRecurrence records a re-observation of a resolved signature.
	// Unknown signatures return (nil, nil): recurrence of an error that was
	// never tracked is a normal event upstream, not a failure.
	TrackRecurrence(ctx context.Context, signature string, occurrence map[string]string) (*Recurrence, error)

	// Status returns the read-only status projection for a signature.
	Status(ctx context.Context, signature string) (*StatusReport, error)

	// SuggestFixes recommends previously successful fixes grouped by
	// fix category.
	SuggestFixes(ctx context.Context, signature string, opts *SuggestOptions) ([]*FixSuggestion, error)

	// Aggregate computes effectiveness statistics, optionally filtered.
	Aggregate(ctx context.Context, filter *AggregateFilter) (*AggregateReport, error)

	// PersistToDisk writes the full record set as one atomic snapshot.
	PersistToDisk(ctx context.Context) error

	// Cleanup permanently removes records resolved earlier than
	// retentionDays ago, from memory and the next snapshot. Returns how
	// many records were removed.
	Cleanup(ctx context.Context, retentionDays int) (int, error)

	// Shutdown stops the snapshot timer, flushes a final snapshot, and
	// releases the store. Idempotent, and safe even if initialization
	// never completed.
	Shutdown(ctx context.Context) error
}

// Config configures the tracker service.
type Config struct {
	// StorageDir is the filesystem location for the persisted snapshot.
	StorageDir string

	// RecurrenceWindow is how long after a fix a recurrence is considered
	// "recent" for effectiveness scoring (default: 7 days).
	RecurrenceWindow time.Duration

	// EffectivenessThreshold is the minimum score for a fix to count as
	// effective (default: 0.8).
	EffectivenessThreshold float64

	// MinSuccessRate is the default suggestion filter (default: 0.8).
	MinSuccessRate float64

	// ConfidenceZ tunes the Wilson lower bound used for suggestion
	// confidence (default: DefaultConfidenceZ).
	ConfidenceZ float64

	// SnapshotInterval is the periodic snapshot cadence. Zero disables the
	// timer; mutations and shutdown still persist (default: 1 minute).
	SnapshotInterval time.Duration

	// RetentionDays is the default cleanup horizon (default: 90).
	RetentionDays int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RecurrenceWindow:       7 * 24 * time.Hour,
		EffectivenessThreshold: 0.8,
		MinSuccessRate:         0.8,
		ConfidenceZ:            DefaultConfidenceZ,
		SnapshotInterval:       time.Minute,
		RetentionDays:          90,
	}
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.StorageDir == "" {
		return errors.New("storage dir is required")
	}
	if c.EffectivenessThreshold < 0 || c.EffectivenessThreshold > 1 {
		return fmt.Errorf("effectiveness threshold must be in [0,1], got %f", c.EffectivenessThreshold)
	}
	if c.MinSuccessRate < 0 || c.MinSuccessRate > 1 {
		return fmt.Errorf("min success rate must be in [0,1], got %f", c.MinSuccessRate)
	}
	if c.RecurrenceWindow < 0 {
		return errors.New("recurrence window cannot be negative")
	}
	if c.SnapshotInterval < 0 {
		return errors.New("snapshot interval cannot be negative")
	}
	if c.RetentionDays < 0 {
		return errors.New("retention days cannot be negative")
	}
	return nil
}

// service implements the Service interface.
type service struct {
	config    *Config
	store     *Store
	scorer    *Scorer
	suggester *Suggester
	snap      *Snapshotter
	logger    *zap.Logger
	now       func() time.Time

	// Telemetry
	tracer            trace.Tracer
	meter             metric.Meter
	resolvedCounter   metric.Int64Counter
	recurrenceCounter metric.Int64Counter
	cleanupCounter    metric.Int64Counter

	// ready is closed once the initial snapshot load has completed;
	// operations queue on it so nothing observes a half-loaded store.
	ready chan struct{}

	// persistMu serializes snapshot writes with each other and with
	// cleanup, so an in-flight write never races a retention pass.
	persistMu sync.Mutex

	dirty   chan struct{}
	limiter *rate.Limiter

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	closed   bool
	shutOnce sync.Once
}

// Option configures optional service behavior.
type Option func(*service)

// WithClock overrides the service clock. Test-only seam: timestamps on
// records and history are otherwise owned entirely by the tracker.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a tracker and begins loading any existing
// snapshot asynchronously. Operations issued before the load completes
// queue on the ready gate. A missing or corrupt snapshot is logged and
// the tracker starts empty; startup never fails on storage state.
func NewService(cfg *Config, logger *zap.Logger, opts ...Option) (Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &service{
		config:  cfg,
		logger:  logger,
		now:     time.Now,
		tracer:  otel.Tracer(instrumentationName),
		meter:   otel.Meter(instrumentationName),
		ready:   make(chan struct{}),
		dirty:   make(chan struct{}, 1),
		limiter: rate.NewLimiter(rate.Every(writeCoalesceInterval), 1),
		runCtx:  runCtx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.store = NewStore(s.now)
	s.scorer = NewScorer(cfg.EffectivenessThreshold, cfg.RecurrenceWindow)
	s.suggester = NewSuggester(s.scorer, cfg.ConfidenceZ)
	s.snap = NewSnapshotter(cfg.StorageDir, logger)

	s.initMetrics()

	s.wg.Add(1)
	go s.loadAndRun()

	return s, nil
}

// initMetrics initializes OpenTelemetry counters.
func (s *service) initMetrics() {
	var err error

	s.resolvedCounter, err = s.meter.Int64Counter(
		"resolvd.tracker.resolutions_total",
		metric.WithDescription("Total number of resolutions and re-resolutions recorded"),
		metric.WithUnit("{resolution}"),
	)
	if err != nil {
		s.logger.Warn("failed to create resolution counter", zap.Error(err))
	}

	s.recurrenceCounter, err = s.meter.Int64Counter(
		"resolvd.tracker.recurrences_total",
		metric.WithDescription("Total number of recurrences tracked"),
		metric.WithUnit("{recurrence}"),
	)
	if err != nil {
		s.logger.Warn("failed to create recurrence counter", zap.Error(err))
	}

	s.cleanupCounter, err = s.meter.Int64Counter(
		"resolvd.tracker.cleanup_removed_total",
		metric.WithDescription("Total number of records removed by retention cleanup"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		s.logger.Warn("failed to create cleanup counter", zap.Error(err))
	}
}

// loadAndRun performs the initial snapshot load, opens the ready gate,
// then runs the snapshot loop until shutdown.
func (s *service) loadAndRun() {
	defer s.wg.Done()

	records, err := s.snap.Load()
	switch {
	case err != nil:
		// Corrupt or unreadable snapshots must not take the process down;
		// the in-memory store becomes the source of truth.
		PersistenceFailures.WithLabelValues("load").Inc()
		s.logger.Warn("snapshot load failed, starting with empty store",
			zap.String("path", s.snap.Path()),
			zap.Error(err),
		)
	case records != nil:
		s.store.Replace(records)
	}
	RecordsTracked.Set(float64(s.store.Len()))
	close(s.ready)

	var tick <-chan time.Time
	if s.config.SnapshotInterval > 0 {
		ticker := time.NewTicker(s.config.SnapshotInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-s.runCtx.Done():
			return
		case <-tick:
			s.persist()
		case <-s.dirty:
			// Coalesce write bursts into one snapshot per interval.
			if err := s.limiter.Wait(s.runCtx); err != nil {
				return
			}
			s.persist()
		}
	}
}

// awaitReady blocks until the initial load has completed.
func (s *service) awaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-s.runCtx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// checkOpen returns ErrClosed after Shutdown.
func (s *service) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// markDirty schedules a coalesced snapshot write.
func (s *service) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

// MarkResolved records a fix for the signature.
func (s *service) MarkResolved(ctx context.Context, signature string, res Resolution) (*Record, error) {
	ctx, span := s.tracer.Start(ctx, "resolution.mark_resolved")
	defer span.End()
	span.SetAttributes(
		attribute.String("signature", signature),
		attribute.String("fix_type", res.FixType),
	)

	if err := s.awaitReady(ctx); err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rec, err := s.store.MarkResolved(signature, res)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	RecordsTracked.Set(float64(s.store.Len()))
	if s.resolvedCounter != nil {
		s.resolvedCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", string(ActionResolved)),
			attribute.String("fix_type", res.FixType),
		))
	}

	s.logger.Info("marked resolved",
		zap.String("signature", signature),
		zap.String("fix_type", res.FixType),
		zap.String("developer_id", res.DeveloperID),
	)

	s.markDirty()
	return rec, nil
}

// ReResolve applies a new fix to an already tracked signature.
func (s *service) ReResolve(ctx context.Context, signature string, res Resolution) (*Record, error) {
	ctx, span := s.tracer.Start(ctx, "resolution.re_resolve")
	defer span.End()
	span.SetAttributes(attribute.String("signature", signature))

	if err := s.awaitReady(ctx); err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rec, err := s.store.ReResolve(signature, res)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if s.resolvedCounter != nil {
		s.resolvedCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", string(ActionReResolved)),
			attribute.String("fix_type", rec.FixType),
		))
	}

	s.logger.Info("re-resolved",
		zap.String("signature", signature),
		zap.Int("history_length", len(rec.History)),
	)

	s.markDirty()
	return rec, nil
}

// TrackRecurrence records a re-observation of a resolved error.
func (s *service) TrackRecurrence(ctx context.Context, signature string, occurrence map[string]string) (*Recurrence, error) {
	ctx, span := s.tracer.Start(ctx, "resolution.track_recurrence")
	defer span.End()
	span.SetAttributes(attribute.String("signature", signature))

	if err := s.awaitReady(ctx); err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rec, err := s.store.TrackRecurrence(signature, occurrence)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if rec == nil {
		// Soft miss: the error was never marked resolved.
		span.SetAttributes(attribute.Bool("known", false))
		return nil, nil
	}

	RecurrencesTotal.Inc()
	if s.recurrenceCounter != nil {
		s.recurrenceCounter.Add(ctx, 1)
	}

	s.logger.Info("tracked recurrence",
		zap.String("signature", signature),
		zap.Int("recurrence_count", rec.RecurrenceCount),
		zap.Duration("time_since_resolution", rec.TimeSinceResolution),
	)

	s.markDirty()
	return rec, nil
}

// Status returns the status projection for a signature.
func (s *service) Status(ctx context.Context, signature string) (*StatusReport, error) {
	ctx, span := s.tracer.Start(ctx, "resolution.status")
	defer span.End()
	span.SetAttributes(attribute.String("signature", signature))

	if err := s.awaitReady(ctx); err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if signature == "" {
		return nil, ErrMissingSignature
	}

	rec, ok := s.store.Get(signature)
	if !ok {
		return &StatusReport{
			HasResolution: false,
			Status:        StatusUnresolved,
			Signature:     signature,
		}, nil
	}

	days := int(s.now().Sub(rec.ResolvedAt).Hours() / 24)
	if days < 0 {
		days = 0
	}

	return &StatusReport{
		HasResolution:       true,
		Status:              rec.Status,
		Signature:           rec.Signature,
		RecurrenceCount:     rec.RecurrenceCount,
		History:             rec.History,
		DaysSinceResolution: days,
		Effective:           s.scorer.IsEffective(rec),
		Score:               s.scorer.Score(rec),
		Notes:               rec.Notes,
		FixDescription:      rec.FixDescription,
		FixType:             rec.FixType,
		DeveloperID:         rec.DeveloperID,
		RootCause:           rec.RootCause,
		PreventionMeasures:  rec.PreventionMeasures,
		RelatedIssues:       rec.RelatedIssues,
		Tags:                rec.Tags,
	}, nil
}

// SuggestFixes recommends fixes by category, backed by the scorer.
func (s *service) SuggestFixes(ctx context.Context, signature string, opts *SuggestOptions) ([]*FixSuggestion, error) {
	ctx, span := s.tracer.Start(ctx, "resolution.suggest_fixes")
	defer span.End()
	span.SetAttributes(attribute.String("signature", signature))

	if err := s.awaitReady(ctx); err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	if opts == nil {
		opts = &SuggestOptions{MinSuccessRate: s.config.MinSuccessRate}
	}

	suggestions := s.suggester.SuggestFixes(s.store.Snapshot(), signature, opts)
	span.SetAttributes(attribute.Int("result_count", len(suggestions)))
	return suggestions, nil
}

// Aggregate computes aggregate effectiveness statistics.
func (s *service) Aggregate(ctx context.Context, filter *AggregateFilter) (*AggregateReport, error) {
	ctx, span := s.tracer.Start(ctx, "resolution.aggregate")
	defer span.End()

	if err := s.awaitReady(ctx); err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	report := s.scorer.Aggregate(s.store.Snapshot(), filter)
	span.SetAttributes(
		attribute.Int("total_fixes", report.TotalFixes),
		attribute.Int("effective_fixes", report.EffectiveFixes),
	)
	return report, nil
}

// PersistToDisk writes the current record set as one atomic snapshot.
func (s *service) PersistToDisk(ctx context.Context) error {
	_, span := s.tracer.Start(ctx, "resolution.persist")
	defer span.End()

	if err := s.awaitReady(ctx); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	if err := s.persist(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// persist snapshots the store to disk. Failures are logged and counted;
// the in-memory store remains the source of truth and a later attempt
// may succeed.
func (s *service) persist() error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	timer := prometheus.NewTimer(SnapshotDuration)
	defer timer.ObserveDuration()

	records := s.store.Snapshot()
	if err := s.snap.Save(records); err != nil {
		PersistenceFailures.WithLabelValues("save").Inc()
		s.logger.Warn("snapshot save failed",
			zap.String("path", s.snap.Path()),
			zap.Error(err),
		)
		return fmt.Errorf("persisting snapshot: %w", err)
	}

	s.logger.Debug("persisted snapshot",
		zap.String("path", s.snap.Path()),
		zap.Int("records", len(records)),
	)
	return nil
}

// Cleanup removes records whose most recent resolution is older than the
// retention horizon, then persists so they do not reappear on restart.
func (s *service) Cleanup(ctx context.Context, retentionDays int) (int, error) {
	ctx, span := s.tracer.Start(ctx, "resolution.cleanup")
	defer span.End()

	if err := s.awaitReady(ctx); err != nil {
		return 0, err
	}
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	if retentionDays <= 0 {
		retentionDays = s.config.RetentionDays
	}
	cutoff := s.now().AddDate(0, 0, -retentionDays)

	removed := s.store.RemoveOlderThan(cutoff)
	RecordsTracked.Set(float64(s.store.Len()))
	if s.cleanupCounter != nil {
		s.cleanupCounter.Add(ctx, int64(len(removed)))
	}

	if len(removed) > 0 {
		s.logger.Info("retention cleanup removed records",
			zap.Int("removed", len(removed)),
			zap.Int("retention_days", retentionDays),
		)
		// Deletion is unconditional; persist immediately rather than
		// waiting for the coalesced writer.
		if err := s.persist(); err != nil {
			span.RecordError(err)
		}
	}

	span.SetAttributes(attribute.Int("removed", len(removed)))
	return len(removed), nil
}

// Shutdown stops the snapshot loop, flushes a final snapshot, and closes
// the tracker. Safe to call multiple times and before the initial load
// has finished.
func (s *service) Shutdown(ctx context.Context) error {
	var err error
	s.shutOnce.Do(func() {
		s.cancel()
		s.wg.Wait()

		// The load goroutine is gone, so the store is stable here even if
		// initialization never completed.
		select {
		case <-s.ready:
			err = s.persist()
		default:
			// Load never finished; nothing meaningful to flush.
		}

		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.logger.Info("tracker shut down", zap.Error(err))
	})
	return err
}
