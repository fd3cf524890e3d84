package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/catalog-scraper/internal/catalog"
)

const rootURL = "https://catalog.test/root"

type fakeFetcher struct {
	mu    sync.Mutex
	errs  map[string]error
	calls map[string]int
	delay time.Duration
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{errs: map[string]error{}, calls: map[string]int{}}
}

// Fetch echoes the URL as the body so fakeParser can look up canned records.
func (f *fakeFetcher) Fetch(ctx context.Context, url string) (catalog.Page, error) {
	f.mu.Lock()
	f.calls[url]++
	err := f.errs[url]
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return catalog.Page{}, ctx.Err()
		}
	}
	if err != nil {
		return catalog.Page{}, err
	}
	return catalog.Page{URL: url, StatusCode: 200, Body: []byte(url)}, nil
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

type fakeParser struct {
	programs  []catalog.StudyProgram
	curricula map[string][]catalog.CurriculumRow
	details   map[string]catalog.CourseDetail
}

func (p *fakeParser) StudyPrograms([]byte) ([]catalog.StudyProgram, error) {
	return p.programs, nil
}

func (p *fakeParser) Curriculum(_ catalog.StudyProgram, body []byte) ([]catalog.CurriculumRow, error) {
	return p.curricula[string(body)], nil
}

func (p *fakeParser) CourseDetail(header catalog.CourseHeader, body []byte) (catalog.CourseDetail, error) {
	d, ok := p.details[string(body)]
	if !ok {
		return catalog.CourseDetail{}, errors.New("no detail for " + string(body))
	}
	d.CourseHeader = header
	return d, nil
}

type fakeWriter struct {
	mu       sync.Mutex
	datasets map[string]catalog.Dataset
	failOn   string
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{datasets: map[string]catalog.Dataset{}}
}

func (w *fakeWriter) WriteDataset(_ context.Context, runID string, ds catalog.Dataset) (catalog.WriteResult, error) {
	if ds.Name == w.failOn {
		return catalog.WriteResult{}, errors.New("disk full")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.datasets[ds.Name] = ds
	return catalog.WriteResult{Dataset: ds.Name, Rows: ds.Len(), Location: "mem://" + runID + "/" + ds.Name}, nil
}

func (w *fakeWriter) get(name string) (catalog.Dataset, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ds, ok := w.datasets[name]
	return ds, ok
}

type fakePublisher struct {
	mu       sync.Mutex
	payloads []any
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, payload)
	return "msg-1", nil
}

type fixedIDs struct{}

func (fixedIDs) NewID() (string, error) { return "run-1", nil }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var (
	programA = catalog.StudyProgram{Name: "Software Engineering", Duration: 4, URL: "https://catalog.test/p/a"}
	programB = catalog.StudyProgram{Name: "Computer Science", Duration: 4, URL: "https://catalog.test/p/b"}
	course1  = catalog.CourseHeader{Code: "F23L1W001", Name: "Intro", URL: "https://catalog.test/c/1"}
	course2  = catalog.CourseHeader{Code: "F23L2S002", Name: "Databases", URL: "https://catalog.test/c/2"}
)

func rowsFor(program catalog.StudyProgram) []catalog.CurriculumRow {
	return []catalog.CurriculumRow{
		{Program: program, Course: course1, Type: catalog.CourseTypeMandatory, Semester: 1},
		{Program: program, Course: course2, Type: catalog.CourseTypeMandatory, Semester: 4},
		{Program: program, Course: course2, Type: catalog.CourseTypeElective, Semester: 6},
	}
}

type fixture struct {
	fetcher   *fakeFetcher
	parser    *fakeParser
	writer    *fakeWriter
	publisher *fakePublisher
	logs      *observer.ObservedLogs
	spans     *tracetest.SpanRecorder
	cfg       Config
}

func newFixture() *fixture {
	f := &fixture{
		fetcher: newFakeFetcher(),
		parser: &fakeParser{
			programs: []catalog.StudyProgram{programA, programB},
			curricula: map[string][]catalog.CurriculumRow{
				programA.URL: rowsFor(programA),
				programB.URL: rowsFor(programB),
			},
			details: map[string]catalog.CourseDetail{
				course1.URL: {NameEN: "Intro", Professors: "A", Prerequisites: catalog.NoneSentinel, AcademicYear: 1, Season: catalog.SeasonWinter},
				course2.URL: {NameEN: "Databases", Professors: "B", Prerequisites: "Intro", AcademicYear: 2, Season: catalog.SeasonSummer},
			},
		},
		writer:    newFakeWriter(),
		publisher: &fakePublisher{},
		cfg: Config{
			RootURL:     rootURL,
			MaxWorkers:  4,
			Executor:    ExecutorProcess,
			QueueDepth:  2,
			LockTimeout: time.Second,
			Merge:       true,
			Topic:       "scrape-runs",
		},
	}
	return f
}

func (f *fixture) pipeline(t *testing.T) *Pipeline {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	f.logs = logs
	f.spans = tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(f.spans))
	p, err := New(f.cfg, Deps{
		Fetcher:   f.fetcher,
		Parser:    f.parser,
		Writer:    f.writer,
		Publisher: f.publisher,
		IDs:       fixedIDs{},
		Clock:     fixedClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		Logger:    zap.New(core),
		Tracer:    tp.Tracer("pipeline-test"),
	})
	require.NoError(t, err)
	return p
}

func TestRunEndToEnd(t *testing.T) {
	for _, executor := range []Executor{ExecutorProcess, ExecutorThread} {
		t.Run(string(executor), func(t *testing.T) {
			f := newFixture()
			f.cfg.Executor = executor
			res, err := f.pipeline(t).Run(context.Background())
			require.NoError(t, err)

			assert.Equal(t, "run-1", res.RunID)
			assert.Len(t, res.StudyPrograms, 2)
			assert.Len(t, res.Curricula, 6)
			assert.Len(t, res.Courses, 2)
			assert.Equal(t, 2, res.DetailDispatches)
			assert.Len(t, res.Merged, 6)
			assert.Empty(t, res.Dropped)
			assert.Equal(t, "msg-1", res.MessageID)

			assert.Equal(t, 1, f.fetcher.count(rootURL))
			assert.Equal(t, 1, f.fetcher.count(course1.URL), "each course page is fetched once")
			assert.Equal(t, 1, f.fetcher.count(course2.URL), "each course page is fetched once")

			for name, rows := range map[string]int{
				StageStudyPrograms: 2,
				StageCurricula:     6,
				StageCourses:       2,
				"result":           6,
			} {
				ds, ok := f.writer.get(name)
				require.True(t, ok, name)
				assert.Equal(t, rows, ds.Len(), name)
			}
			assert.Len(t, res.Writes, 4)
		})
	}
}

func TestRunPublishesNotification(t *testing.T) {
	f := newFixture()
	_, err := f.pipeline(t).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, f.publisher.payloads, 1)
	n, ok := f.publisher.payloads[0].(RunNotification)
	require.True(t, ok)
	assert.Equal(t, "run-1", n.RunID)
	assert.Len(t, n.Datasets, 4)
	assert.Zero(t, n.DroppedRows)
}

func TestRunNotificationFailureIsNotFatal(t *testing.T) {
	f := newFixture()
	f.publisher.err = errors.New("topic missing")
	res, err := f.pipeline(t).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.MessageID)
	assert.Equal(t, 1, f.logs.FilterMessage("run notification failed").Len())
}

func TestRunSkipsCourseWithStatusError(t *testing.T) {
	f := newFixture()
	f.fetcher.errs[course2.URL] = &catalog.StatusError{URL: course2.URL, StatusCode: 404}

	res, err := f.pipeline(t).Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, res.Courses, 1)
	assert.Equal(t, 1, res.Skipped[StageCourses])
	assert.Len(t, res.Merged, 2)
	assert.Len(t, res.Dropped, 4)
	for _, row := range res.Dropped {
		assert.Equal(t, course2.Code, row.Course.Code)
	}
	assert.Equal(t, 4, f.logs.FilterMessage("curriculum row dropped: no course detail").Len())
}

func TestRunSkipsProgramWithStatusError(t *testing.T) {
	f := newFixture()
	f.fetcher.errs[programB.URL] = &catalog.StatusError{URL: programB.URL, StatusCode: 500}

	res, err := f.pipeline(t).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Curricula, 3)
	assert.Equal(t, 1, res.Skipped[StageCurricula])
	assert.Len(t, res.Courses, 2)
}

func TestRunRootFailureIsFatal(t *testing.T) {
	f := newFixture()
	f.fetcher.errs[rootURL] = &catalog.StatusError{URL: rootURL, StatusCode: 503}

	_, err := f.pipeline(t).Run(context.Background())
	require.ErrorIs(t, err, catalog.ErrHTTPStatus)
	assert.Zero(t, f.fetcher.count(programA.URL))
}

func TestRunTransportFailureAborts(t *testing.T) {
	f := newFixture()
	f.fetcher.errs[course1.URL] = errors.New("connection reset by peer")

	_, err := f.pipeline(t).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset by peer")
	assert.False(t, catalog.IsSkippable(err))
}

func TestRunStorageFailureAborts(t *testing.T) {
	f := newFixture()
	f.writer.failOn = StageCourses

	_, err := f.pipeline(t).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save courses")
	_, ok := f.writer.get("result")
	assert.False(t, ok)
}

func TestRunDropsInvalidRecords(t *testing.T) {
	f := newFixture()
	invalid := catalog.StudyProgram{Name: "Broken", Duration: 7, URL: "https://catalog.test/p/c"}
	f.parser.programs = append(f.parser.programs, invalid)

	res, err := f.pipeline(t).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.StudyPrograms, 2)
	assert.Equal(t, 1, res.Skipped[StageStudyPrograms])
	assert.Zero(t, f.fetcher.count(invalid.URL))
}

func TestRunWithoutMerge(t *testing.T) {
	f := newFixture()
	f.cfg.Merge = false

	res, err := f.pipeline(t).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Merged)
	_, ok := f.writer.get("result")
	assert.False(t, ok)
}

func TestRunCustomDatasetNames(t *testing.T) {
	f := newFixture()
	f.cfg.Datasets = DatasetNames{Result: "finki_courses"}

	_, err := f.pipeline(t).Run(context.Background())
	require.NoError(t, err)
	ds, ok := f.writer.get("finki_courses")
	require.True(t, ok)
	assert.Equal(t, catalog.ColumnNames(catalog.MergedColumns), catalog.ColumnNames(ds.Columns))
}

func TestRunStageStates(t *testing.T) {
	f := newFixture()
	f.fetcher.delay = 5 * time.Millisecond
	p := f.pipeline(t)

	var mu sync.Mutex
	states := map[string][]State{}
	p.onState = func(stage string, s State) {
		mu.Lock()
		defer mu.Unlock()
		states[stage] = append(states[stage], s)
	}

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	want := []State{StateWaitingForInput, StateDraining, StateDone}
	assert.Equal(t, want, states[StageCurricula])
	assert.Equal(t, want, states[StageCourses])
}

func TestRunCanceled(t *testing.T) {
	f := newFixture()
	f.fetcher.delay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.pipeline(t).Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{}, Deps{})
	require.Error(t, err)

	_, err = New(Config{RootURL: rootURL}, Deps{})
	require.Error(t, err)
}

func spanNames(rec *tracetest.SpanRecorder) map[string]codes.Code {
	out := map[string]codes.Code{}
	for _, s := range rec.Ended() {
		out[s.Name()] = s.Status().Code
	}
	return out
}

func TestRunRecordsSpans(t *testing.T) {
	f := newFixture()
	_, err := f.pipeline(t).Run(context.Background())
	require.NoError(t, err)

	names := spanNames(f.spans)
	for _, name := range []string{
		"catalog.scrape",
		"stage." + StageStudyPrograms,
		"stage." + StageCurricula,
		"stage." + StageCourses,
		"stage." + StageMerge,
		"dataset.save",
	} {
		assert.Contains(t, names, name)
	}
	assert.Equal(t, codes.Unset, names["catalog.scrape"])

	var saves int
	for _, s := range f.spans.Ended() {
		if s.Name() == "dataset.save" {
			saves++
		}
	}
	assert.Equal(t, 4, saves)
}

func TestRunMarksFailedSpans(t *testing.T) {
	f := newFixture()
	f.writer.failOn = StageCourses
	_, err := f.pipeline(t).Run(context.Background())
	require.Error(t, err)

	names := spanNames(f.spans)
	assert.Equal(t, codes.Error, names["catalog.scrape"])
	assert.Equal(t, codes.Error, names["stage."+StageCourses])
}

func TestRunLogsDispatchedCourses(t *testing.T) {
	f := newFixture()
	_, err := f.pipeline(t).Run(context.Background())
	require.NoError(t, err)

	entries := f.logs.FilterMessage("course details dispatched").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.EqualValues(t, 2, fields["count"])
	assert.ElementsMatch(t, []any{course1.Code, course2.Code}, fields["codes"])

	drained := f.logs.FilterMessage("batch drained").All()
	require.NotEmpty(t, drained)
	for _, e := range drained {
		assert.Contains(t, e.ContextMap(), "backlog")
	}
}
