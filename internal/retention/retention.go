// Package retention shrinks an item collection to fit the retention policy
// and the snapshot size budget.
//
// The engine runs three stages in a fixed order, each consuming the output
// of the previous one:
//
//	A  age        drop items dated before now minus the retention window
//	B  source     drop file items whose path left the live repository tree
//	C  capacity   drop the lowest-priority items until the estimate fits
//
// Stage C must see an already aged and reconciled set, so the order is never
// changed. The kept set is computed entirely in memory; removed ids are then
// deleted from the durable mirror in independent batches whose failures are
// logged and never alter the result.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vecsnap/internal/failure"
	"github.com/fyrsmithlabs/vecsnap/internal/item"
	"github.com/fyrsmithlabs/vecsnap/internal/mirror"
	"github.com/fyrsmithlabs/vecsnap/internal/source"
)

var tracer = otel.Tracer("vecsnap.retention")

// Stage names used in reports and metrics.
const (
	StageAge      = "age"
	StageSource   = "source"
	StageCapacity = "capacity"
)

// Defaults.
const (
	DefaultWindowMonths    = 6
	DefaultSafetyMargin    = 0.95
	DefaultMaxRounds       = 8
	DefaultConcurrency     = 5
	DefaultDeleteBatchSize = 100
	DefaultRecentCommit    = 90 * 24 * time.Hour
	DefaultRecentQA        = 30 * 24 * time.Hour
)

var (
	// ErrInvalidConfig indicates an invalid retention configuration.
	ErrInvalidConfig = errors.New("invalid retention configuration")

	// ErrBudgetExceeded reports that Stage C used all its rounds and the
	// estimate is still above the budget.
	ErrBudgetExceeded = errors.New("snapshot estimate exceeds budget after pruning")
)

// Config controls the retention policy.
type Config struct {
	// WindowMonths is the maximum item age in calendar months. Default: 6.
	WindowMonths int

	// BudgetBytes is the compressed snapshot budget. Zero disables Stage C.
	BudgetBytes int64

	// SafetyMargin scales the Stage C target count to absorb estimation
	// error. Must be in (0, 1). Default: 0.95.
	SafetyMargin float64

	// MaxRounds bounds Stage C re-estimation. Default: 8.
	MaxRounds int

	// Concurrency bounds parallel tree listings in Stage B. Default: 5.
	Concurrency int

	// DeleteBatchSize is the number of ids per mirror delete. Default: 100.
	DeleteBatchSize int

	// RecentCommit and RecentQA are the windows in which commits and
	// interactions get the higher priority score.
	RecentCommit time.Duration
	RecentQA     time.Duration

	// SourceExtensions overrides the recognized source-code extensions.
	SourceExtensions []string
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.WindowMonths == 0 {
		c.WindowMonths = DefaultWindowMonths
	}
	if c.SafetyMargin == 0 {
		c.SafetyMargin = DefaultSafetyMargin
	}
	if c.MaxRounds == 0 {
		c.MaxRounds = DefaultMaxRounds
	}
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.DeleteBatchSize == 0 {
		c.DeleteBatchSize = DefaultDeleteBatchSize
	}
	if c.RecentCommit == 0 {
		c.RecentCommit = DefaultRecentCommit
	}
	if c.RecentQA == 0 {
		c.RecentQA = DefaultRecentQA
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.WindowMonths < 0 {
		return fmt.Errorf("%w: window_months must not be negative", ErrInvalidConfig)
	}
	if c.BudgetBytes < 0 {
		return fmt.Errorf("%w: budget_bytes must not be negative", ErrInvalidConfig)
	}
	if c.SafetyMargin <= 0 || c.SafetyMargin >= 1 {
		return fmt.Errorf("%w: safety_margin must be in (0, 1), got %v", ErrInvalidConfig, c.SafetyMargin)
	}
	if c.MaxRounds < 1 || c.Concurrency < 1 || c.DeleteBatchSize < 1 {
		return fmt.Errorf("%w: max_rounds, concurrency and delete_batch_size must be positive", ErrInvalidConfig)
	}
	return nil
}

// StageReport summarizes one stage.
type StageReport struct {
	Stage   string `json:"stage"`
	Before  int    `json:"before"`
	After   int    `json:"after"`
	Removed int    `json:"removed"`
}

func newStageReport(stage string, before, after int) StageReport {
	return StageReport{Stage: stage, Before: before, After: after, Removed: before - after}
}

// Report aggregates a full engine run.
type Report struct {
	Stages  []StageReport `json:"stages"`
	Before  int           `json:"before"`
	After   int           `json:"after"`
	Removed int           `json:"removed"`

	// EstimatedBytes is the final Stage C estimate, zero when Stage C is
	// disabled.
	EstimatedBytes int `json:"estimated_bytes,omitempty"`

	// Failures lists repositories whose tree listing failed in Stage B.
	Failures []*failure.PartialFailure `json:"-"`

	// BudgetExceeded is set when Stage C ran out of rounds with the
	// estimate still above the budget.
	BudgetExceeded bool `json:"budget_exceeded,omitempty"`

	// MirrorDeleteFailures counts delete batches rejected by the mirror.
	MirrorDeleteFailures int `json:"mirror_delete_failures"`
}

// Stage returns the report for the named stage.
func (r Report) Stage(name string) (StageReport, bool) {
	for _, s := range r.Stages {
		if s.Stage == name {
			return s, true
		}
	}
	return StageReport{}, false
}

// Result is the outcome of Engine.Apply.
type Result struct {
	Items      []item.Item
	RemovedIDs []string
	Report     Report
}

// Engine applies the retention stages.
type Engine struct {
	config    Config
	reconcile bool
	lister    source.Lister
	repos     []source.Repo
	mirror    mirror.Mirror
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithSources enables Stage B against repos listed through lister. With
// Stage B enabled, file items of repositories outside repos are removed.
// lister may be nil only when repos is empty.
func WithSources(lister source.Lister, repos []source.Repo) Option {
	return func(e *Engine) {
		e.reconcile = true
		e.lister = lister
		e.repos = repos
	}
}

// WithMirror sets the durable mirror that receives removals.
func WithMirror(m mirror.Mirror) Option {
	return func(e *Engine) { e.mirror = m }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates an Engine.
func NewEngine(config Config, opts ...Option) (*Engine, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		config: config,
		mirror: mirror.Nop{},
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.reconcile && e.lister == nil && len(e.repos) > 0 {
		return nil, fmt.Errorf("%w: sources configured without a lister", ErrInvalidConfig)
	}
	return e, nil
}

// Apply runs stages A, B and C on items and then removes the dropped ids
// from the mirror. items is not modified. Only a Stage C estimation failure
// is returned as an error; listing and mirror failures are recorded in the
// report.
func (e *Engine) Apply(ctx context.Context, items []item.Item) (Result, error) {
	ctx, span := tracer.Start(ctx, "Engine.Apply")
	defer span.End()

	now := e.now()
	report := Report{Before: len(items)}

	kept, stageA := e.StageA(items, now)
	report.Stages = append(report.Stages, stageA)

	kept, stageB, failures := e.StageB(ctx, kept)
	report.Stages = append(report.Stages, stageB)
	report.Failures = failures

	kept, stageC, estimate, err := e.StageC(kept, now)
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}
	report.Stages = append(report.Stages, stageC)
	report.EstimatedBytes = estimate
	report.BudgetExceeded = e.config.BudgetBytes > 0 && int64(estimate) > e.config.BudgetBytes

	report.After = len(kept)
	report.Removed = report.Before - report.After
	for _, s := range report.Stages {
		stageRemovals.WithLabelValues(s.Stage).Add(float64(s.Removed))
	}

	removed := removedIDs(items, kept)
	report.MirrorDeleteFailures = e.deleteFromMirror(ctx, removed)

	span.SetAttributes(
		attribute.Int("retention.before", report.Before),
		attribute.Int("retention.after", report.After),
		attribute.Int("retention.partial_failures", len(failures)),
		attribute.Bool("retention.budget_exceeded", report.BudgetExceeded),
	)
	e.logger.Info("retention applied",
		zap.Int("before", report.Before),
		zap.Int("after", report.After),
		zap.Int("removed_age", stageA.Removed),
		zap.Int("removed_source", stageB.Removed),
		zap.Int("removed_capacity", stageC.Removed),
		zap.Int("estimated_bytes", estimate),
	)
	return Result{Items: kept, RemovedIDs: removed, Report: report}, nil
}

// Forget deletes ids that left the collection outside Apply, such as chunks
// superseded by a shorter re-chunked file. It returns the number of failed
// batches.
func (e *Engine) Forget(ctx context.Context, ids []string) int {
	return e.deleteFromMirror(ctx, ids)
}

func removedIDs(before, after []item.Item) []string {
	keep := make(map[string]struct{}, len(after))
	for _, it := range after {
		keep[it.ID] = struct{}{}
	}
	var out []string
	for _, it := range before {
		if _, ok := keep[it.ID]; !ok {
			out = append(out, it.ID)
		}
	}
	return out
}

// deleteFromMirror deletes ids in batches and returns the number of failed
// batches.
func (e *Engine) deleteFromMirror(ctx context.Context, ids []string) int {
	failed := 0
	size := e.config.DeleteBatchSize
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		if err := e.mirror.DeleteWhere(ctx, mirror.ByIDs(ids[start:end]...)); err != nil {
			failed++
			mirrorDeleteFailures.Inc()
			e.logger.Warn("mirror delete batch failed",
				zap.Int("batch_start", start),
				zap.Int("batch_size", end-start),
				zap.Error(err))
		}
	}
	return failed
}
