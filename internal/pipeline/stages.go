package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-scraper/internal/catalog"
	"github.com/JakeFAU/catalog-scraper/internal/metrics"
	"github.com/JakeFAU/catalog-scraper/internal/queue/memory"
)

// studyProgramStage fetches the catalog root, publishes every valid program to out, then saves them.
// A failure to fetch the root page is fatal whatever its cause.
func (p *Pipeline) studyProgramStage(
	ctx context.Context,
	logger *zap.Logger,
	r *run,
	out *memory.Queue[catalog.StudyProgram],
) (_ []catalog.StudyProgram, err error) {
	defer out.Close()
	ctx, span := p.deps.Tracer.Start(ctx, "stage."+StageStudyPrograms)
	defer func() { endSpan(span, err) }()
	start := time.Now()
	logger.Info("stage started", zap.String("stage", StageStudyPrograms))

	page, err := p.deps.Fetcher.Fetch(ctx, p.cfg.RootURL)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog root %s: %w", p.cfg.RootURL, err)
	}
	parsed, err := p.deps.Parser.StudyPrograms(page.Body)
	if err != nil {
		return nil, fmt.Errorf("parse catalog root: %w", err)
	}

	programs := make([]catalog.StudyProgram, 0, len(parsed))
	for _, program := range parsed {
		if err := p.deps.Validator.StudyProgram(program); err != nil {
			p.dropInvalid(logger, r, StageStudyPrograms, program.URL, err)
			continue
		}
		if err := out.Enqueue(ctx, program); err != nil {
			return nil, fmt.Errorf("publish study program: %w", err)
		}
		programs = append(programs, program)
	}
	out.Close()

	logger.Info("stage finished",
		zap.String("stage", StageStudyPrograms),
		zap.Int("parsed", len(parsed)),
		zap.Int("records", len(programs)),
	)
	metrics.ObserveStage(StageStudyPrograms, time.Since(start))
	ds := catalog.NewDataset(p.cfg.Datasets.StudyPrograms, catalog.StudyProgramColumns, programs)
	if err := p.save(ctx, logger, r, ds); err != nil {
		return nil, err
	}
	return programs, nil
}

// curriculumStage consumes programs, emits curriculum rows, and hands each newly seen course
// to the course detail stage through the run's header queue.
func (p *Pipeline) curriculumStage(
	ctx context.Context,
	logger *zap.Logger,
	r *run,
	in *memory.Queue[catalog.StudyProgram],
) (_ []catalog.CurriculumRow, err error) {
	defer r.headers.Close()
	ctx, span := p.deps.Tracer.Start(ctx, "stage."+StageCurricula)
	defer func() { endSpan(span, err) }()
	start := time.Now()
	logger.Info("stage started", zap.String("stage", StageCurricula))

	c := &consumer[catalog.StudyProgram, catalog.CurriculumRow]{
		name:     StageCurricula,
		workers:  p.cfg.MaxWorkers,
		executor: p.cfg.Executor,
		logger:   logger,
		onState:  p.onState,
		process: func(ctx context.Context, program catalog.StudyProgram) ([]catalog.CurriculumRow, error) {
			return p.processProgram(ctx, logger, r, program)
		},
	}
	rows, err := c.run(ctx, in)
	if err != nil {
		return nil, err
	}
	r.headers.Close()

	logger.Info("stage finished", zap.String("stage", StageCurricula), zap.Int("records", len(rows)))
	metrics.ObserveStage(StageCurricula, time.Since(start))
	if err := p.save(ctx, logger, r, catalog.NewDataset(p.cfg.Datasets.Curricula, catalog.CurriculumColumns, rows)); err != nil {
		return nil, err
	}
	return rows, nil
}

func (p *Pipeline) processProgram(
	ctx context.Context,
	logger *zap.Logger,
	r *run,
	program catalog.StudyProgram,
) ([]catalog.CurriculumRow, error) {
	page, err := p.deps.Fetcher.Fetch(ctx, program.URL)
	if err != nil {
		return nil, p.skipOrFail(logger, r, StageCurricula, program.URL, err)
	}
	parsed, err := p.deps.Parser.Curriculum(program, page.Body)
	if err != nil {
		return nil, fmt.Errorf("parse curriculum %s: %w", program.URL, err)
	}

	rows := make([]catalog.CurriculumRow, 0, len(parsed))
	for _, row := range parsed {
		if err := p.deps.Validator.CurriculumRow(row); err != nil {
			p.dropInvalid(logger, r, StageCurricula, row.Course.Code, err)
			continue
		}
		rows = append(rows, row)

		header := row.Header()
		isNew, err := r.dedup.Offer(ctx, header)
		if err != nil {
			return nil, fmt.Errorf("dedup %s: %w", header.Code, err)
		}
		if !isNew {
			continue
		}
		if err := r.headers.Enqueue(ctx, header); err != nil {
			return nil, fmt.Errorf("publish course header %s: %w", header.Code, err)
		}
	}
	logger.Debug("curriculum scraped",
		zap.String("program", program.Name),
		zap.Int("rows", len(rows)),
		zap.Bool("from_cache", page.FromCache),
	)
	return rows, nil
}

// courseDetailStage consumes deduplicated course headers and emits one detail per course.
func (p *Pipeline) courseDetailStage(ctx context.Context, logger *zap.Logger, r *run) (_ []catalog.CourseDetail, err error) {
	ctx, span := p.deps.Tracer.Start(ctx, "stage."+StageCourses)
	defer func() { endSpan(span, err) }()
	start := time.Now()
	logger.Info("stage started", zap.String("stage", StageCourses))

	c := &consumer[catalog.CourseHeader, catalog.CourseDetail]{
		name:     StageCourses,
		workers:  p.cfg.MaxWorkers,
		executor: p.cfg.Executor,
		logger:   logger,
		onState:  p.onState,
		process: func(ctx context.Context, header catalog.CourseHeader) ([]catalog.CourseDetail, error) {
			return p.processCourse(ctx, logger, r, header)
		},
	}
	details, err := c.run(ctx, r.headers)
	if err != nil {
		return nil, err
	}

	logger.Info("stage finished", zap.String("stage", StageCourses), zap.Int("records", len(details)))
	metrics.ObserveStage(StageCourses, time.Since(start))
	if err := p.save(ctx, logger, r, catalog.NewDataset(p.cfg.Datasets.Courses, catalog.CourseDetailColumns, details)); err != nil {
		return nil, err
	}
	return details, nil
}

func (p *Pipeline) processCourse(
	ctx context.Context,
	logger *zap.Logger,
	r *run,
	header catalog.CourseHeader,
) ([]catalog.CourseDetail, error) {
	page, err := p.deps.Fetcher.Fetch(ctx, header.URL)
	if err != nil {
		return nil, p.skipOrFail(logger, r, StageCourses, header.URL, err)
	}
	detail, err := p.deps.Parser.CourseDetail(header, page.Body)
	if err != nil {
		return nil, fmt.Errorf("parse course %s: %w", header.Code, err)
	}
	if err := p.deps.Validator.CourseDetail(detail); err != nil {
		p.dropInvalid(logger, r, StageCourses, header.Code, err)
		return nil, nil
	}
	return []catalog.CourseDetail{detail}, nil
}

// mergeStage joins curricula with course details and saves the result.
func (p *Pipeline) mergeStage(ctx context.Context, logger *zap.Logger, r *run, res *Result) (err error) {
	ctx, span := p.deps.Tracer.Start(ctx, "stage."+StageMerge)
	defer func() { endSpan(span, err) }()
	start := time.Now()
	merged, dropped := catalog.Merge(res.Curricula, res.Courses)
	for _, row := range dropped {
		logger.Warn("curriculum row dropped: no course detail",
			zap.String("program", row.Program.Name),
			zap.String("code", row.Course.Code),
			zap.String("course_url", row.Course.URL),
		)
	}
	if len(dropped) > 0 {
		metrics.ObserveDropped(StageMerge, "no_course_detail", len(dropped))
	}
	res.Merged = merged
	res.Dropped = dropped

	logger.Info("merge finished", zap.Int("merged", len(merged)), zap.Int("dropped", len(dropped)))
	metrics.ObserveStage(StageMerge, time.Since(start))
	return p.save(ctx, logger, r, catalog.NewDataset(p.cfg.Datasets.Result, catalog.MergedColumns, merged))
}

// skipOrFail logs and swallows non-2xx responses; any other error is returned to abort the run.
func (p *Pipeline) skipOrFail(logger *zap.Logger, r *run, stage, url string, err error) error {
	if !catalog.IsSkippable(err) {
		return fmt.Errorf("%s: fetch %s: %w", stage, url, err)
	}
	logger.Warn("item skipped", zap.String("stage", stage), zap.String("url", url), zap.Error(err))
	metrics.ObserveDropped(stage, "http_status", 1)
	r.skip(stage)
	return nil
}

func (p *Pipeline) dropInvalid(logger *zap.Logger, r *run, stage, key string, err error) {
	logger.Warn("invalid record dropped", zap.String("stage", stage), zap.String("key", key), zap.Error(err))
	metrics.ObserveDropped(stage, "invalid", 1)
	r.skip(stage)
}
