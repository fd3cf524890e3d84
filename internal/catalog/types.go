// Package catalog defines the records, contracts, and pure transforms shared by the scraper pipeline.
package catalog

import (
	"strconv"
	"time"
)

// CourseType classifies a curriculum entry.
type CourseType string

const (
	// CourseTypeMandatory marks a course required by the study program.
	CourseTypeMandatory CourseType = "MANDATORY"
	// CourseTypeElective marks a course picked from an elective group.
	CourseTypeElective CourseType = "ELECTIVE"
)

// Season is the teaching semester kind of a course.
type Season string

const (
	// SeasonWinter is the autumn/winter semester.
	SeasonWinter Season = "WINTER"
	// SeasonSummer is the spring/summer semester.
	SeasonSummer Season = "SUMMER"
)

// NoneSentinel replaces empty professor and prerequisite lists.
const NoneSentinel = "none"

// StudyProgram is one undergraduate track listed on the catalog root page.
type StudyProgram struct {
	Name     string
	Duration int
	URL      string
}

// Values returns the record in StudyProgramColumns order.
func (p StudyProgram) Values() []any {
	return []any{p.Name, p.Duration, p.URL}
}

// CourseHeader is the minimal identity of a course.
type CourseHeader struct {
	Code string
	Name string
	URL  string
}

func (h CourseHeader) values() []any {
	return []any{h.Code, h.Name, h.URL}
}

// CurriculumRow is one (study program, course) membership.
type CurriculumRow struct {
	Program  StudyProgram
	Course   CourseHeader
	Type     CourseType
	Semester int
}

// Header returns the course identity referenced by the row.
func (r CurriculumRow) Header() CourseHeader {
	return r.Course
}

// Values returns the record in CurriculumColumns order.
func (r CurriculumRow) Values() []any {
	out := r.Program.Values()
	out = append(out, r.Course.values()...)
	return append(out, string(r.Type), r.Semester)
}

// CourseDetail holds the extended metadata from a course's own page.
type CourseDetail struct {
	CourseHeader
	NameEN        string
	Professors    string
	Prerequisites string
	AcademicYear  int
	Season        Season
	Competence    string
	Content       string
}

func (d CourseDetail) extendedValues() []any {
	return []any{
		d.NameEN,
		d.Professors,
		d.Prerequisites,
		d.AcademicYear,
		string(d.Season),
		d.Competence,
		d.Content,
	}
}

// Values returns the record in CourseDetailColumns order.
func (d CourseDetail) Values() []any {
	return append(d.CourseHeader.values(), d.extendedValues()...)
}

// MergedRecord is a curriculum row joined with the detail of its course.
type MergedRecord struct {
	Row    CurriculumRow
	Detail CourseDetail
}

// Values returns the record in MergedColumns order.
func (m MergedRecord) Values() []any {
	return append(m.Row.Values(), m.Detail.extendedValues()...)
}

// Page is a fetched HTML document.
type Page struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
	FromCache  bool
}

// ColumnKind is the logical type of a dataset column.
type ColumnKind int

const (
	// ColumnString holds text values.
	ColumnString ColumnKind = iota
	// ColumnInt holds integer values.
	ColumnInt
)

// Column describes one dataset column.
type Column struct {
	Name string
	Kind ColumnKind
	Doc  string
}

// Format renders a value for a delimited text encoding.
func (c Column) Format(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case nil:
		return ""
	default:
		if s, ok := v.(interface{ String() string }); ok {
			return s.String()
		}
		return ""
	}
}

// Dataset is a named table ready to persist.
type Dataset struct {
	Name    string
	Columns []Column
	Rows    [][]any
}

// Len reports the number of rows.
func (d Dataset) Len() int {
	return len(d.Rows)
}

// Valuer is implemented by every record type that can become a dataset row.
type Valuer interface {
	Values() []any
}

// NewDataset builds a Dataset from typed records.
func NewDataset[T Valuer](name string, columns []Column, records []T) Dataset {
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		rows = append(rows, rec.Values())
	}
	return Dataset{Name: name, Columns: columns, Rows: rows}
}
