package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-scraper/internal/catalog"
	"github.com/JakeFAU/catalog-scraper/internal/config"
	"github.com/JakeFAU/catalog-scraper/internal/pipeline"
)

type fakeRunner struct {
	res pipeline.Result
	err error
	ctx context.Context
}

func (f *fakeRunner) Run(ctx context.Context) (pipeline.Result, error) {
	f.ctx = ctx
	return f.res, f.err
}

type fakeApp struct {
	runner    *fakeRunner
	runnerErr error
	closed    bool
}

func (f *fakeApp) Close()              { f.closed = true }
func (f *fakeApp) Logger() *zap.Logger { return zap.NewNop() }
func (f *fakeApp) Runner() (pipeline.Runner, error) {
	if f.runnerErr != nil {
		return nil, f.runnerErr
	}
	return f.runner, nil
}

func withFakeApp(t *testing.T, a *fakeApp) *int {
	t.Helper()
	calls := 0
	orig := newApp
	newApp = func(context.Context, config.Config) (App, error) {
		calls++
		return a, nil
	}
	t.Cleanup(func() { newApp = orig })
	return &calls
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestScrapePrintsSummaryAndClosesApp(t *testing.T) {
	a := &fakeApp{runner: &fakeRunner{res: pipeline.Result{
		RunID:            "run-1",
		StartedAt:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		FinishedAt:       time.Date(2024, 1, 1, 0, 0, 5, 0, time.UTC),
		DetailDispatches: 2,
		Writes: []catalog.WriteResult{
			{Dataset: "courses", Rows: 2, Location: "mem://courses.csv"},
		},
	}}}
	calls := withFakeApp(t, a)

	out, err := execute(t, "scrape")
	require.NoError(t, err)
	assert.Equal(t, 1, *calls)
	assert.True(t, a.closed)
	assert.Contains(t, strings.ToLower(out), "mem://courses.csv")
}

func TestScrapeQuietSkipsSummary(t *testing.T) {
	a := &fakeApp{runner: &fakeRunner{res: pipeline.Result{RunID: "run-1"}}}
	withFakeApp(t, a)

	out, err := execute(t, "scrape", "--quiet")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestScrapeTimeoutSetsDeadline(t *testing.T) {
	runner := &fakeRunner{}
	withFakeApp(t, &fakeApp{runner: runner})

	_, err := execute(t, "scrape", "-q", "--timeout", "1m")
	require.NoError(t, err)
	_, ok := runner.ctx.Deadline()
	assert.True(t, ok)
}

func TestScrapeReturnsRunError(t *testing.T) {
	boom := errors.New("storage down")
	a := &fakeApp{runner: &fakeRunner{err: boom}}
	withFakeApp(t, a)

	_, err := execute(t, "scrape")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, a.closed)
}

func TestScrapeReturnsPipelineBuildError(t *testing.T) {
	withFakeApp(t, &fakeApp{runnerErr: errors.New("bad executor")})

	_, err := execute(t, "scrape")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build pipeline")
}

func TestScrapeAppInitFailure(t *testing.T) {
	orig := newApp
	newApp = func(context.Context, config.Config) (App, error) {
		return nil, errors.New("no bucket")
	}
	t.Cleanup(func() { newApp = orig })

	_, err := execute(t, "scrape")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize application services")
}

func TestSchemaDoesNotBuildApp(t *testing.T) {
	calls := withFakeApp(t, &fakeApp{})

	out, err := execute(t, "schema", catalog.KindCourses)
	require.NoError(t, err)
	assert.Equal(t, 0, *calls)
	assert.Contains(t, out, `"type": "record"`)
	assert.Contains(t, out, `"name": "courses"`)
}

func TestSchemaUsesConfiguredDatasetName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("datasets:\n  result: finki_courses\n"), 0o600))

	out, err := execute(t, "--config", path, "schema", catalog.KindResult)
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "finki_courses"`)
}

func TestSchemaUnknownDataset(t *testing.T) {
	_, err := execute(t, "schema", "professors")
	require.Error(t, err)
	assert.ErrorIs(t, err, catalog.ErrUnknownDataset)
}

func TestBadConfigFileFails(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "schema", catalog.KindCourses)
	require.Error(t, err)
}
