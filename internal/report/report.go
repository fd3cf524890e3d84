// Package report renders a run summary for terminals.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/JakeFAU/catalog-scraper/internal/pipeline"
)

// MaxDroppedRows caps the dropped row listing.
const MaxDroppedRows = 20

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault
	t.SetOutputMirror(w)
	t.SetTitle(title)
	return t
}

// Write renders the datasets written by a run, followed by any dropped curriculum rows.
func Write(w io.Writer, res pipeline.Result) {
	t := newTable(w, "run "+res.RunID)
	t.AppendHeader(table.Row{"Dataset", "Rows", "Location", "Digest"})
	for _, wr := range res.Writes {
		t.AppendRow(table.Row{wr.Dataset, wr.Rows, wr.Location, wr.Digest})
	}
	t.AppendFooter(table.Row{
		"elapsed", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond).String(),
		fmt.Sprintf("detail fetches: %d", res.DetailDispatches),
		fmt.Sprintf("skipped: %d", totalSkipped(res.Skipped)),
	})
	t.Render()

	if len(res.Dropped) == 0 {
		return
	}
	d := newTable(w, fmt.Sprintf("dropped curriculum rows (%d)", len(res.Dropped)))
	d.AppendHeader(table.Row{"Program", "Code", "Course", "Semester"})
	for i, row := range res.Dropped {
		if i == MaxDroppedRows {
			d.AppendFooter(table.Row{fmt.Sprintf("... %d more", len(res.Dropped)-MaxDroppedRows)})
			break
		}
		d.AppendRow(table.Row{row.Program.Name, row.Course.Code, row.Course.Name, row.Semester})
	}
	d.Render()
}

func totalSkipped(skipped map[string]int) int {
	n := 0
	for _, v := range skipped {
		n += v
	}
	return n
}
