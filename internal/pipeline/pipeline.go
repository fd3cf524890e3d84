// Package pipeline runs the staged catalog scrape: study programs feed curricula,
// curricula feed deduplicated course detail fetches, and the results are joined and persisted.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/catalog-scraper/internal/catalog"
	"github.com/JakeFAU/catalog-scraper/internal/metrics"
	"github.com/JakeFAU/catalog-scraper/internal/queue/memory"
)

// Stage names used in logs, metrics, and dataset defaults.
const (
	StageStudyPrograms = "study_programs"
	StageCurricula     = "curricula"
	StageCourses       = "courses"
	StageMerge         = "merge"
)

// Parser turns fetched pages into records.
type Parser interface {
	StudyPrograms(body []byte) ([]catalog.StudyProgram, error)
	Curriculum(program catalog.StudyProgram, body []byte) ([]catalog.CurriculumRow, error)
	CourseDetail(header catalog.CourseHeader, body []byte) (catalog.CourseDetail, error)
}

// Validator rejects records that break their invariants.
type Validator interface {
	StudyProgram(p catalog.StudyProgram) error
	CurriculumRow(r catalog.CurriculumRow) error
	CourseDetail(d catalog.CourseDetail) error
}

// DatasetNames maps each output to its persisted name.
type DatasetNames struct {
	StudyPrograms string
	Curricula     string
	Courses       string
	Result        string
}

// Config tunes a pipeline run.
type Config struct {
	RootURL     string
	MaxWorkers  int
	Executor    Executor
	QueueDepth  int
	LockTimeout time.Duration
	Merge       bool
	Datasets    DatasetNames
	Topic       string
}

// Deps are the collaborators injected into a Pipeline.
type Deps struct {
	Fetcher   catalog.PageFetcher
	Parser    Parser
	Validator Validator
	Writer    catalog.DatasetWriter
	Publisher catalog.Publisher
	IDs       catalog.IDGenerator
	Clock     catalog.Clock
	Logger    *zap.Logger
	// Tracer defaults to the global provider's pipeline tracer.
	Tracer trace.Tracer
}

const tracerName = "github.com/JakeFAU/catalog-scraper/internal/pipeline"

// Pipeline owns the queues, dedup state, and stages of one scrape configuration.
// Each Run builds fresh run state, so a Pipeline can be reused.
type Pipeline struct {
	cfg  Config
	deps Deps

	onState func(stage string, s State)
}

// New validates the configuration and dependencies and returns a Pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if cfg.RootURL == "" {
		return nil, errors.New("pipeline: root url is required")
	}
	if deps.Fetcher == nil || deps.Parser == nil || deps.Writer == nil {
		return nil, errors.New("pipeline: fetcher, parser and writer are required")
	}
	if deps.IDs == nil || deps.Clock == nil {
		return nil, errors.New("pipeline: id generator and clock are required")
	}
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = 1
	}
	if cfg.Executor == "" {
		cfg.Executor = ExecutorProcess
	}
	if deps.Validator == nil {
		deps.Validator = catalog.NewValidator()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	cfg.Datasets = withDefaultNames(cfg.Datasets)
	return &Pipeline{cfg: cfg, deps: deps}, nil
}

func withDefaultNames(n DatasetNames) DatasetNames {
	if n.StudyPrograms == "" {
		n.StudyPrograms = StageStudyPrograms
	}
	if n.Curricula == "" {
		n.Curricula = StageCurricula
	}
	if n.Courses == "" {
		n.Courses = StageCourses
	}
	if n.Result == "" {
		n.Result = catalog.KindResult
	}
	return n
}

// Result is everything a run produced.
type Result struct {
	RunID            string
	StartedAt        time.Time
	FinishedAt       time.Time
	StudyPrograms    []catalog.StudyProgram
	Curricula        []catalog.CurriculumRow
	Courses          []catalog.CourseDetail
	Merged           []catalog.MergedRecord
	Dropped          []catalog.CurriculumRow
	DetailDispatches int
	Skipped          map[string]int
	Writes           []catalog.WriteResult
	MessageID        string
}

// run carries the mutable state of a single Run.
type run struct {
	id      string
	headers *memory.Queue[catalog.CourseHeader]
	dedup   *Deduplicator

	mu      sync.Mutex
	skipped map[string]int
	writes  []catalog.WriteResult
}

func (r *run) skip(stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped[stage]++
}

func (r *run) recordWrite(w catalog.WriteResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, w)
}

// Run scrapes the catalog once. Any transport failure after retries, lock timeout,
// or storage failure aborts the run and is returned.
func (p *Pipeline) Run(ctx context.Context) (res Result, err error) {
	logger := p.deps.Logger
	runID, err := p.deps.IDs.NewID()
	if err != nil {
		return Result{}, fmt.Errorf("generate run id: %w", err)
	}
	ctx, span := p.deps.Tracer.Start(ctx, "catalog.scrape", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("root_url", p.cfg.RootURL),
	))
	defer func() { endSpan(span, err) }()
	res = Result{RunID: runID, StartedAt: p.deps.Clock.Now()}
	logger = logger.With(zap.String("run_id", runID))
	logger.Info("scrape started",
		zap.String("root_url", p.cfg.RootURL),
		zap.Int("max_workers", p.cfg.MaxWorkers),
		zap.String("executor", string(p.cfg.Executor)),
	)

	programs := memory.NewQueue[catalog.StudyProgram](p.cfg.QueueDepth)
	r := &run{
		id:      runID,
		headers: memory.NewQueue[catalog.CourseHeader](p.cfg.QueueDepth),
		dedup:   NewDeduplicator(p.cfg.LockTimeout),
		skipped: make(map[string]int),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := p.studyProgramStage(gctx, logger, r, programs)
		res.StudyPrograms = out
		return err
	})
	g.Go(func() error {
		out, err := p.curriculumStage(gctx, logger, r, programs)
		res.Curricula = out
		return err
	})
	g.Go(func() error {
		out, err := p.courseDetailStage(gctx, logger, r)
		res.Courses = out
		return err
	})
	if err := g.Wait(); err != nil {
		logger.Error("scrape aborted", zap.Error(err))
		return res, err
	}

	dispatched, err := r.dedup.Headers(ctx)
	if err != nil {
		return res, err
	}
	res.DetailDispatches = len(dispatched)
	codes := make([]string, 0, len(dispatched))
	for _, h := range dispatched {
		codes = append(codes, h.Code)
	}
	logger.Debug("course details dispatched", zap.Int("count", len(codes)), zap.Strings("codes", codes))

	if p.cfg.Merge {
		if err := p.mergeStage(ctx, logger, r, &res); err != nil {
			logger.Error("scrape aborted", zap.Error(err))
			return res, err
		}
	}

	res.Skipped = r.skipped
	res.Writes = r.writes
	res.FinishedAt = p.deps.Clock.Now()
	res.MessageID = p.notify(ctx, logger, res)

	logger.Info("scrape finished",
		zap.Int("study_programs", len(res.StudyPrograms)),
		zap.Int("curricula", len(res.Curricula)),
		zap.Int("courses", len(res.Courses)),
		zap.Int("merged", len(res.Merged)),
		zap.Int("dropped", len(res.Dropped)),
		zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)),
	)
	return res, nil
}

func (p *Pipeline) save(ctx context.Context, logger *zap.Logger, r *run, ds catalog.Dataset) (err error) {
	ctx, span := p.deps.Tracer.Start(ctx, "dataset.save", trace.WithAttributes(
		attribute.String("dataset", ds.Name),
		attribute.Int("rows", ds.Len()),
	))
	defer func() { endSpan(span, err) }()

	wr, err := p.deps.Writer.WriteDataset(ctx, r.id, ds)
	if err != nil {
		metrics.ObserveDatasetWrite(ds.Name, "error")
		logger.Error("dataset save failed", zap.String("dataset", ds.Name), zap.Int("rows", ds.Len()), zap.Error(err))
		return fmt.Errorf("save %s: %w", ds.Name, err)
	}
	metrics.ObserveDatasetWrite(ds.Name, "ok")
	metrics.ObserveRecords(ds.Name, ds.Len())
	logger.Info("dataset saved",
		zap.String("dataset", ds.Name),
		zap.Int("rows", wr.Rows),
		zap.String("location", wr.Location),
	)
	r.recordWrite(wr)
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// RunNotification is published once a run has persisted all datasets.
type RunNotification struct {
	RunID       string                `json:"run_id"`
	StartedAt   time.Time             `json:"started_at"`
	FinishedAt  time.Time             `json:"finished_at"`
	Datasets    []catalog.WriteResult `json:"datasets"`
	DroppedRows int                   `json:"dropped_rows"`
	Skipped     map[string]int        `json:"skipped"`
}

// notify publishes the run notification. Failures are logged; the datasets are already persisted.
func (p *Pipeline) notify(ctx context.Context, logger *zap.Logger, res Result) string {
	if p.deps.Publisher == nil || p.cfg.Topic == "" {
		return ""
	}
	id, err := p.deps.Publisher.Publish(ctx, p.cfg.Topic, RunNotification{
		RunID:       res.RunID,
		StartedAt:   res.StartedAt,
		FinishedAt:  res.FinishedAt,
		Datasets:    res.Writes,
		DroppedRows: len(res.Dropped),
		Skipped:     res.Skipped,
	})
	if err != nil {
		logger.Warn("run notification failed", zap.String("topic", p.cfg.Topic), zap.Error(err))
		return ""
	}
	logger.Info("run notification published", zap.String("topic", p.cfg.Topic), zap.String("message_id", id))
	return id
}

// Runner is the part of a Pipeline the CLI drives.
type Runner interface {
	Run(ctx context.Context) (Result, error)
}

var _ Runner = (*Pipeline)(nil)
