package report

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/catalog-scraper/internal/catalog"
	"github.com/JakeFAU/catalog-scraper/internal/pipeline"
)

func TestWrite(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	res := pipeline.Result{
		RunID:            "run-1",
		StartedAt:        start,
		FinishedAt:       start.Add(1500 * time.Millisecond),
		DetailDispatches: 2,
		Skipped:          map[string]int{pipeline.StageCourses: 1, pipeline.StageCurricula: 2},
		Writes: []catalog.WriteResult{
			{Dataset: "courses", Rows: 2, Location: "file:///tmp/courses.csv", Digest: "sha256:abc"},
		},
		Dropped: []catalog.CurriculumRow{
			{Program: catalog.StudyProgram{Name: "Software Engineering"}, Course: catalog.CourseHeader{Code: "f23l2s002", Name: "Databases"}, Semester: 4},
		},
	}

	var buf bytes.Buffer
	Write(&buf, res)
	out := strings.ToLower(buf.String())

	assert.Contains(t, out, "run run-1")
	assert.Contains(t, out, "file:///tmp/courses.csv")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "skipped: 3")
	assert.Contains(t, out, "dropped curriculum rows (1)")
	assert.Contains(t, out, "f23l2s002")
}

func TestWriteCapsDroppedRows(t *testing.T) {
	t.Parallel()

	var dropped []catalog.CurriculumRow
	for i := 0; i < MaxDroppedRows+5; i++ {
		dropped = append(dropped, catalog.CurriculumRow{Course: catalog.CourseHeader{Code: fmt.Sprintf("F23L1W%03d", i)}})
	}

	var buf bytes.Buffer
	Write(&buf, pipeline.Result{RunID: "r", Dropped: dropped})
	out := strings.ToLower(buf.String())
	assert.Contains(t, out, "f23l1w019")
	assert.NotContains(t, out, "f23l1w020")
	assert.Contains(t, out, "5 more")
}

func TestWriteNoDropped(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	Write(&buf, pipeline.Result{RunID: "r"})
	assert.NotContains(t, buf.String(), "dropped")
}
