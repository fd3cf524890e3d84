package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-scraper/internal/catalog"
)

// Catalog root page.
const (
	studyProgramItemSelector = "div > div > div > div > div > ul > li > div"
)

var studyProgramFields = []Field{
	{Name: "name", Selector: "span:nth-child(1)", Kind: KindText},
	{Name: "duration", Selector: "span:nth-child(2)", Kind: KindInt},
	{Name: "url", Selector: "a[href]", Kind: KindURL},
}

// Study program page.
const (
	mandatorySectionSelector  = ".col-md-6.col-sm-12"
	electiveSectionSelector   = ".col-md-12.col-sm-12"
	sectionRowSelector        = "tr"
	sectionSemesterSelector   = "h3 > span"
	rowCodeSelector           = "td:nth-child(1)"
	rowNameAndURLSelector     = "td:nth-child(2) > a"
	rowElectiveSemesterSelect = "td:nth-child(3)"
)

// Course detail page.
const (
	courseTableSelector = "table.table-striped.table.table-bordered.table-sm"
	winterPrefix        = "зим"
)

var courseDetailFields = []Field{
	{Name: "name_en", Selector: "tr:nth-child(1) > td:nth-child(3) > p:nth-child(2) > span", Kind: KindText},
	{Name: "professors", Selector: "tr:nth-child(7) > td:nth-child(3)", Kind: KindList},
	{Name: "prerequisites", Selector: "tr:nth-child(8) > td:nth-child(3)", Kind: KindList},
	{
		Name:     "academic_year",
		Selector: "tr:nth-child(6) > td:nth-child(2) > p:nth-child(2) > span:nth-child(1)",
		Kind:     KindInt,
	},
	{
		Name:     "season",
		Selector: "tr:nth-child(6) > td:nth-child(2) > p:nth-child(2) > span:nth-child(2)",
		Kind:     KindText,
	},
	{Name: "competence", Selector: "tr:nth-child(9) > td:nth-child(2) > p:nth-child(3)", Kind: KindText},
	{Name: "content", Selector: "tr:nth-child(10) > td:nth-child(2) > p:nth-child(3)", Kind: KindText},
}

func parseDocument(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// StudyPrograms extracts the study programs listed on the catalog root page.
// Programs whose URL does not end in the configured language suffix are skipped.
func (e *Extractor) StudyPrograms(body []byte) ([]catalog.StudyProgram, error) {
	doc, err := parseDocument(body)
	if err != nil {
		return nil, err
	}
	var programs []catalog.StudyProgram
	doc.Find(studyProgramItemSelector).Each(func(_ int, item *goquery.Selection) {
		v := e.Extract(item, studyProgramFields)
		program := catalog.StudyProgram{
			Name:     v.String("name"),
			Duration: v.Int("duration"),
			URL:      v.String("url"),
		}
		if e.suffix != "" && !strings.HasSuffix(program.URL, e.suffix) {
			e.logger.Debug("skipping study program in other language", zap.String("url", program.URL))
			return
		}
		programs = append(programs, program)
	})
	return programs, nil
}

// Curriculum extracts one row per course listed on a study program page.
func (e *Extractor) Curriculum(program catalog.StudyProgram, body []byte) ([]catalog.CurriculumRow, error) {
	doc, err := parseDocument(body)
	if err != nil {
		return nil, err
	}
	var rows []catalog.CurriculumRow
	doc.Find(mandatorySectionSelector).Each(func(_ int, section *goquery.Selection) {
		semesterField := Field{Name: "semester", Selector: sectionSemesterSelector}
		semester := e.Int(section, semesterField)
		rows = append(rows, e.sectionRows(program, section, catalog.CourseTypeMandatory, func(*goquery.Selection) int {
			return semester
		})...)
	})
	doc.Find(electiveSectionSelector).Each(func(_ int, section *goquery.Selection) {
		semesterField := Field{Name: "semester", Selector: rowElectiveSemesterSelect}
		rows = append(rows, e.sectionRows(program, section, catalog.CourseTypeElective, func(row *goquery.Selection) int {
			return e.Int(row, semesterField)
		})...)
	})
	return rows, nil
}

func (e *Extractor) sectionRows(
	program catalog.StudyProgram,
	section *goquery.Selection,
	courseType catalog.CourseType,
	semester func(*goquery.Selection) int,
) []catalog.CurriculumRow {
	var rows []catalog.CurriculumRow
	section.Find(sectionRowSelector).Each(func(_ int, row *goquery.Selection) {
		if !e.Present(row, rowCodeSelector, rowNameAndURLSelector) {
			return
		}
		fields := catalog.CorrectFields(map[string]string{
			catalog.FieldCode:   e.Text(row, Field{Name: "code", Selector: rowCodeSelector}),
			catalog.FieldNameMK: e.Text(row, Field{Name: "name_mk", Selector: rowNameAndURLSelector}),
		})
		rows = append(rows, catalog.CurriculumRow{
			Program: program,
			Course: catalog.CourseHeader{
				Code: fields[catalog.FieldCode],
				Name: fields[catalog.FieldNameMK],
				URL:  e.URL(row, Field{Name: "url", Selector: rowNameAndURLSelector, Kind: KindURL}),
			},
			Type:     courseType,
			Semester: semester(row),
		})
	})
	return rows
}

// CourseDetail extracts the extended metadata of a course page.
// Identity fields come from the header that led to the page.
func (e *Extractor) CourseDetail(header catalog.CourseHeader, body []byte) (catalog.CourseDetail, error) {
	doc, err := parseDocument(body)
	if err != nil {
		return catalog.CourseDetail{}, err
	}
	table := doc.Find(courseTableSelector).First()
	if table.Length() == 0 {
		e.logger.Warn("course table not found", zap.String("code", header.Code), zap.String("url", header.URL))
	}
	v := e.Extract(table, courseDetailFields)

	corrected := catalog.CorrectFields(map[string]string{
		catalog.FieldCode:   header.Code,
		catalog.FieldNameEN: v.String("name_en"),
	})

	return catalog.CourseDetail{
		CourseHeader:  header,
		NameEN:        corrected[catalog.FieldNameEN],
		Professors:    OrNone(v.String("professors")),
		Prerequisites: OrNone(v.String("prerequisites")),
		AcademicYear:  v.Int("academic_year"),
		Season:        ParseSeason(v.String("season")),
		Competence:    v.String("competence"),
		Content:       v.String("content"),
	}, nil
}

// ParseSeason maps the catalog's semester label to a Season. Anything not winter is summer.
func ParseSeason(label string) catalog.Season {
	lower := strings.ToLower(Clean(label))
	if strings.HasPrefix(lower, winterPrefix) || strings.Contains(lower, "winter") {
		return catalog.SeasonWinter
	}
	return catalog.SeasonSummer
}
