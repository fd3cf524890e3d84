package catalog

import (
	"errors"
	"fmt"
)

const codeDoc = `The unique identifier code for the course (pattern: ^F23L[1-3][SW]\d{3}).`

// StudyProgramColumns is the fixed column order of the study programs dataset.
var StudyProgramColumns = []Column{
	{Name: "study_program_name", Kind: ColumnString, Doc: "The name of the study program."},
	{Name: "study_program_duration", Kind: ColumnInt, Doc: "The nominal duration of the study program in years."},
	{Name: "study_program_url", Kind: ColumnString, Doc: "The URL of the study program page."},
}

var courseHeaderColumns = []Column{
	{Name: "course_code", Kind: ColumnString, Doc: codeDoc},
	{Name: "course_name_mk", Kind: ColumnString, Doc: "The name of the course in Macedonian."},
	{Name: "course_url", Kind: ColumnString, Doc: "The URL of the course detail page."},
}

var courseDetailExtraColumns = []Column{
	{Name: "course_name_en", Kind: ColumnString, Doc: "The name of the course in English."},
	{Name: "course_professors", Kind: ColumnString, Doc: "Comma separated professors teaching the course."},
	{Name: "course_prerequisites", Kind: ColumnString, Doc: "Comma separated prerequisites of the course."},
	{Name: "course_academic_year", Kind: ColumnInt, Doc: "The academic year the course is taught in."},
	{Name: "course_season", Kind: ColumnString, Doc: "WINTER or SUMMER."},
	{Name: "course_competence", Kind: ColumnString, Doc: "Competences acquired by the course."},
	{Name: "course_content", Kind: ColumnString, Doc: "Course content description."},
}

// CurriculumColumns is the fixed column order of the curricula dataset.
var CurriculumColumns = concatColumns(
	StudyProgramColumns,
	courseHeaderColumns,
	[]Column{
		{Name: "course_type", Kind: ColumnString, Doc: "MANDATORY or ELECTIVE."},
		{Name: "course_semester", Kind: ColumnInt, Doc: "The suggested semester of the course."},
	},
)

// CourseDetailColumns is the fixed column order of the courses dataset.
var CourseDetailColumns = concatColumns(courseHeaderColumns, courseDetailExtraColumns)

// MergedColumns is the fixed column order of the joined result dataset.
var MergedColumns = concatColumns(CurriculumColumns, courseDetailExtraColumns)

func concatColumns(groups ...[]Column) []Column {
	var out []Column
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// ColumnNames returns the names of the given columns in order.
func ColumnNames(columns []Column) []string {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}
	return names
}

// Dataset kinds accepted by ColumnsFor.
const (
	KindStudyPrograms = "study_programs"
	KindCurricula     = "curricula"
	KindCourses       = "courses"
	KindResult        = "result"
)

// ErrUnknownDataset is returned for a dataset kind without a column layout.
var ErrUnknownDataset = errors.New("unknown dataset")

// Kinds lists the dataset kinds in pipeline order.
func Kinds() []string {
	return []string{KindStudyPrograms, KindCurricula, KindCourses, KindResult}
}

// ColumnsFor returns the column layout of a dataset kind.
func ColumnsFor(kind string) ([]Column, error) {
	switch kind {
	case KindStudyPrograms:
		return StudyProgramColumns, nil
	case KindCurricula:
		return CurriculumColumns, nil
	case KindCourses:
		return CourseDetailColumns, nil
	case KindResult:
		return MergedColumns, nil
	default:
		return nil, fmt.Errorf("%w %q (want one of %v)", ErrUnknownDataset, kind, Kinds())
	}
}
