// Package pipeline runs the batch ingestion cycle:
//
//	gather -> embed -> retain -> export
//
// Stages run strictly in sequence. Within gather and embed, units of work
// (one repository, one item) run under a bounded worker pool, and a failing
// unit is recorded without aborting its siblings. The previously published
// snapshot stays authoritative until a new one is published, and the
// incremental state is saved only after that.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vecsnap/internal/chunker"
	"github.com/fyrsmithlabs/vecsnap/internal/failure"
	"github.com/fyrsmithlabs/vecsnap/internal/item"
	"github.com/fyrsmithlabs/vecsnap/internal/logging"
	"github.com/fyrsmithlabs/vecsnap/internal/mirror"
	"github.com/fyrsmithlabs/vecsnap/internal/retention"
	"github.com/fyrsmithlabs/vecsnap/internal/scrub"
	"github.com/fyrsmithlabs/vecsnap/internal/snapshot"
	"github.com/fyrsmithlabs/vecsnap/internal/source"
	"github.com/fyrsmithlabs/vecsnap/internal/state"
)

var tracer = otel.Tracer("vecsnap.pipeline")

// Defaults.
const (
	DefaultSnapshotName          = "index.json.gz"
	DefaultConcurrency           = 5
	DefaultInitialLookbackMonths = 6
)

// Embedder produces one vector per text. *embeddings.Long implements it.
type Embedder interface {
	EmbedLong(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Scrubber redacts secrets. *scrub.Scrubber implements it.
type Scrubber interface {
	Scrub(content string) scrub.Result
}

// Config controls a pipeline.
type Config struct {
	// Repos are the source repositories to ingest.
	Repos []source.Repo

	// Filter selects the files of each tree that are ingested.
	Filter source.Filter

	// SnapshotName is the artifact name passed to the sink.
	SnapshotName string

	// Concurrency bounds repository gathering and item embedding. Default: 5.
	Concurrency int

	// MaxLines is the number of lines per file chunk. Default: 200.
	MaxLines int

	// MaxFilesPerRepo caps changed files ingested per repository per run.
	// Remaining files are picked up by later runs. Zero means no cap.
	MaxFilesPerRepo int

	// InitialLookbackMonths bounds commit history on a repository's first
	// run. Default: 6.
	InitialLookbackMonths int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.SnapshotName == "" {
		c.SnapshotName = DefaultSnapshotName
	}
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.MaxLines == 0 {
		c.MaxLines = chunker.DefaultMaxLines
	}
	if c.InitialLookbackMonths == 0 {
		c.InitialLookbackMonths = DefaultInitialLookbackMonths
	}
}

// Deps are the collaborators of a pipeline. Lister is required when Repos
// is non-empty; Scrubber, QA and Mirror are optional.
type Deps struct {
	Lister    source.Lister
	Embedder  Embedder
	Scrubber  Scrubber
	QA        QASource
	Retention *retention.Engine
	Exporter  *snapshot.Exporter
	Snapshots snapshot.Reader
	State     state.Store
	Mirror    mirror.Mirror
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Pipeline runs ingestion and cleanup cycles.
type Pipeline struct {
	config    Config
	lister    source.Lister
	embedder  Embedder
	scrubber  Scrubber
	qa        QASource
	retention *retention.Engine
	exporter  *snapshot.Exporter
	snapshots snapshot.Reader
	state     state.Store
	mirror    mirror.Mirror
	now       func() time.Time
	logger    *zap.Logger
}

// New validates config and deps and returns a Pipeline. Every validation
// failure is a *failure.ConfigError.
func New(config Config, deps Deps) (*Pipeline, error) {
	config.ApplyDefaults()
	if config.Concurrency < 1 {
		return nil, failure.NewConfigError("pipeline.concurrency", "must be positive")
	}
	if err := config.Filter.Validate(); err != nil {
		return nil, failure.NewConfigError("sources.filter", err.Error())
	}
	if len(config.Repos) > 0 && deps.Lister == nil {
		return nil, failure.NewConfigError("sources", "repositories configured without a lister")
	}
	switch {
	case deps.Embedder == nil:
		return nil, failure.NewConfigError("embedding", "embedder is required")
	case deps.Retention == nil:
		return nil, failure.NewConfigError("retention", "engine is required")
	case deps.Exporter == nil:
		return nil, failure.NewConfigError("snapshot", "exporter is required")
	case deps.Snapshots == nil:
		return nil, failure.NewConfigError("snapshot", "reader is required")
	case deps.State == nil:
		return nil, failure.NewConfigError("state", "store is required")
	}

	p := &Pipeline{
		config:    config,
		lister:    deps.Lister,
		embedder:  deps.Embedder,
		scrubber:  deps.Scrubber,
		qa:        deps.QA,
		retention: deps.Retention,
		exporter:  deps.Exporter,
		snapshots: deps.Snapshots,
		state:     deps.State,
		mirror:    deps.Mirror,
		now:       deps.Clock,
		logger:    deps.Logger,
	}
	if p.mirror == nil {
		p.mirror = mirror.Nop{}
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p, nil
}

// RunReport summarizes a run.
type RunReport struct {
	RunID     string        `json:"run_id"`
	Operation string        `json:"operation"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	Previous   int `json:"previous"`
	Candidates int `json:"candidates"`
	Embedded   int `json:"embedded"`
	Skipped    int `json:"skipped"`
	Superseded int `json:"superseded"`

	Retention retention.Report      `json:"retention"`
	Export    snapshot.ExportResult `json:"export"`

	// Failures are the isolated unit failures of the run.
	Failures []*failure.PartialFailure `json:"-"`
	// FailureMessages mirrors Failures for serialization.
	FailureMessages []string `json:"failures,omitempty"`
}

func (r *RunReport) addFailure(pf *failure.PartialFailure) {
	r.Failures = append(r.Failures, pf)
	r.FailureMessages = append(r.FailureMessages, pf.Error())
	partialFailures.Inc()
}

// begin starts a run: it assigns a run id, loads state and the previous
// snapshot. A malformed previous snapshot fails the run.
func (p *Pipeline) begin(ctx context.Context, op string) (context.Context, *RunReport, *state.State, []item.Item, error) {
	report := &RunReport{RunID: uuid.NewString(), Operation: op, StartedAt: p.now()}
	ctx = logging.WithRunID(ctx, report.RunID)

	st, err := p.state.Load(ctx)
	if err != nil {
		return ctx, report, nil, nil, fmt.Errorf("loading state: %w", err)
	}

	prev, err := snapshot.Load(ctx, p.snapshots, p.config.SnapshotName)
	switch {
	case err == nil:
	case failure.IsNotFound(err):
		p.logger.Info("no previous snapshot, starting empty",
			append(logging.ContextFields(ctx), zap.Error(err))...)
		prev = snapshot.Build(nil, report.StartedAt)
	default:
		return ctx, report, nil, nil, fmt.Errorf("loading previous snapshot: %w", err)
	}

	if prev.Count > 0 && prev.Dimension != p.embedder.Dimension() {
		return ctx, report, nil, nil, failure.NewConfigError("embedding.dimension",
			fmt.Sprintf("embedder produces %d dimensions, published snapshot has %d", p.embedder.Dimension(), prev.Dimension))
	}
	report.Previous = prev.Count
	return ctx, report, st, prev.Items, nil
}

func (p *Pipeline) finish(span trace.Span, report *RunReport, err error) {
	report.Duration = p.now().Sub(report.StartedAt)
	runDuration.WithLabelValues(report.Operation).Observe(report.Duration.Seconds())
	result := "success"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	runsTotal.WithLabelValues(report.Operation, result).Inc()
}

// Run executes one ingestion cycle. The report is filled in as far as the
// run got, also on error.
func (p *Pipeline) Run(ctx context.Context) (RunReport, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Run")
	defer span.End()

	ctx, rep, st, previous, err := p.begin(ctx, "ingest")
	if err == nil {
		err = p.ingest(ctx, rep, st, previous)
	}
	p.finish(span, rep, err)
	return *rep, err
}

func (p *Pipeline) ingest(ctx context.Context, rep *RunReport, st *state.State, previous []item.Item) error {
	log := p.logger.With(logging.ContextFields(ctx)...)
	prev := newIndex(previous)

	// Gather.
	repoResults := p.gatherRepos(ctx, st, prev, rep.StartedAt)
	var groups []*group
	for _, rr := range repoResults {
		if rr.err != nil {
			rep.addFailure(&failure.PartialFailure{Unit: rr.repo.FullName(), Err: rr.err})
			log.Warn("repository skipped, carrying previous items",
				zap.String("repo", rr.repo.FullName()), zap.Error(rr.err))
			continue
		}
		groups = append(groups, rr.groups...)
	}

	qaGroups, newestQA, qaErr := p.gatherQA(ctx, st.LastQATimestamp, prev)
	if qaErr != nil {
		rep.addFailure(&failure.PartialFailure{Unit: qaUnit, Err: qaErr})
		log.Warn("interaction source failed", zap.Error(qaErr))
	}
	groups = append(groups, qaGroups...)
	for _, g := range groups {
		rep.Candidates += len(g.items)
	}

	// Embed.
	p.embed(ctx, groups)

	// Merge.
	failedUnits := make(map[string]bool)
	superseded := make(map[string]struct{})
	var fresh []item.Item
	for _, g := range groups {
		if gerr := g.err(); gerr != nil {
			failedUnits[g.unit] = true
			rep.Skipped += len(g.items)
			unitsSkipped.WithLabelValues(string(g.items[0].Type)).Add(float64(len(g.items)))
			log.Warn("skipping unit after embedding failure", zap.String("unit", g.key), zap.Error(gerr))
			continue
		}
		for _, id := range g.supersedes {
			superseded[id] = struct{}{}
		}
		fresh = append(fresh, g.items...)
	}
	rep.Embedded = len(fresh)
	for _, it := range fresh {
		// Re-embedded under an existing id: replaced, not superseded.
		delete(superseded, it.ID)
	}
	replaced := make(map[string]struct{}, len(fresh))
	for _, it := range fresh {
		replaced[it.ID] = struct{}{}
	}

	merged := make([]item.Item, 0, len(previous)+len(fresh))
	var dropped []string
	for _, it := range previous {
		if _, drop := superseded[it.ID]; drop {
			dropped = append(dropped, it.ID)
			continue
		}
		if _, ok := replaced[it.ID]; ok {
			continue
		}
		merged = append(merged, it)
	}
	rep.Superseded = len(dropped)
	merged = append(merged, fresh...)

	// Retain and export.
	kept, err := p.retainAndExport(ctx, rep, merged)
	if err != nil {
		return err
	}

	// Mirror the survivors among the new items, then forget the superseded
	// chunks. Both happen only after a successful export.
	p.mirrorNew(ctx, log, kept, fresh)
	if len(dropped) > 0 {
		rep.Retention.MirrorDeleteFailures += p.retention.Forget(ctx, dropped)
	}

	// Advance state.
	next := st.Clone()
	for _, rr := range repoResults {
		if rr.err != nil || failedUnits[rr.repo.FullName()] {
			continue
		}
		next.SetRepo(rr.repo.FullName(), rr.state)
	}
	if qaErr == nil && !failedUnits[qaUnit] {
		next.LastQATimestamp = newestQA
	}
	if err := p.state.Save(ctx, next); err != nil {
		return fmt.Errorf("saving state: %w", err)
	}

	log.Info("ingest complete",
		zap.Int("previous", rep.Previous),
		zap.Int("embedded", rep.Embedded),
		zap.Int("skipped", rep.Skipped),
		zap.Int("exported", rep.Export.Count),
		zap.Int("partial_failures", len(rep.Failures)))
	return nil
}

// retainAndExport applies retention to items and publishes the survivors.
func (p *Pipeline) retainAndExport(ctx context.Context, rep *RunReport, items []item.Item) ([]item.Item, error) {
	res, err := p.retention.Apply(ctx, items)
	if err != nil {
		return nil, fmt.Errorf("applying retention: %w", err)
	}
	rep.Retention = res.Report
	for _, pf := range res.Report.Failures {
		rep.addFailure(pf)
	}
	if res.Report.BudgetExceeded {
		rep.addFailure(&failure.PartialFailure{
			Unit: retention.StageCapacity,
			Err: fmt.Errorf("%w: estimated %d bytes",
				retention.ErrBudgetExceeded, res.Report.EstimatedBytes),
		})
	}

	export, err := p.exporter.Export(ctx, res.Items, p.config.SnapshotName)
	if err != nil {
		return nil, err
	}
	rep.Export = export
	exportBytes.WithLabelValues("raw").Set(float64(export.RawBytes))
	exportBytes.WithLabelValues("compressed").Set(float64(export.CompressedBytes))
	return res.Items, nil
}

func (p *Pipeline) mirrorNew(ctx context.Context, log *zap.Logger, kept, fresh []item.Item) {
	if len(fresh) == 0 {
		return
	}
	isNew := make(map[string]struct{}, len(fresh))
	for _, it := range fresh {
		isNew[it.ID] = struct{}{}
	}
	var upserts []item.Item
	for _, it := range kept {
		if _, ok := isNew[it.ID]; ok {
			upserts = append(upserts, it)
		}
	}
	if len(upserts) == 0 {
		return
	}
	if err := p.mirror.Upsert(ctx, upserts); err != nil {
		log.Warn("mirror upsert failed", zap.Int("items", len(upserts)), zap.Error(err))
	}
}

// Cleanup applies retention to the published snapshot and republishes it.
// Sources are contacted only for Stage B tree listings.
func (p *Pipeline) Cleanup(ctx context.Context) (RunReport, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Cleanup")
	defer span.End()

	ctx, rep, st, previous, err := p.begin(ctx, "cleanup")
	if err == nil {
		err = p.cleanup(ctx, rep, st, previous)
	}
	p.finish(span, rep, err)
	span.SetAttributes(attribute.Int("cleanup.removed", rep.Retention.Removed))
	return *rep, err
}

func (p *Pipeline) cleanup(ctx context.Context, rep *RunReport, st *state.State, previous []item.Item) error {
	if _, err := p.retainAndExport(ctx, rep, previous); err != nil {
		return err
	}

	next := st.Clone()
	next.LastCleanupRun = rep.StartedAt
	if err := p.state.Save(ctx, next); err != nil {
		return fmt.Errorf("saving state: %w", err)
	}

	p.logger.Info("cleanup complete",
		append(logging.ContextFields(ctx),
			zap.Int("before", rep.Retention.Before),
			zap.Int("after", rep.Retention.After))...)
	return nil
}

// scrub redacts secrets in content when a scrubber is configured.
func (p *Pipeline) scrub(ctx context.Context, content string) string {
	if p.scrubber == nil {
		return content
	}
	res := p.scrubber.Scrub(content)
	if n := len(res.Findings); n > 0 {
		rules := make([]string, 0, n)
		for _, f := range res.Findings {
			rules = append(rules, f.RuleID)
		}
		sort.Strings(rules)
		p.logger.Info("redacted secrets",
			append(logging.ContextFields(ctx), zap.Strings("rules", rules))...)
		redactions.Add(float64(n))
	}
	return res.Content
}

// IsFatal reports whether err from Run or Cleanup should stop a scheduler:
// configuration errors are fatal, everything else may be retried.
func IsFatal(err error) bool {
	var ce *failure.ConfigError
	return errors.As(err, &ce)
}
