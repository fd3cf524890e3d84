package catalog

import (
	"errors"
	"fmt"
	"net/url"
)

// Bounds enforced by Validator.
const (
	MinDuration = 2
	MaxDuration = 4
	MinSemester = 1
	MaxSemester = 8
)

// Validator checks record invariants before records enter a dataset.
type Validator struct{}

// NewValidator returns a Validator.
func NewValidator() Validator {
	return Validator{}
}

// StudyProgram validates a study program record.
func (Validator) StudyProgram(p StudyProgram) error {
	var errs []error
	if p.Name == "" {
		errs = append(errs, errors.New("name is empty"))
	}
	if p.Duration < MinDuration || p.Duration > MaxDuration {
		errs = append(errs, fmt.Errorf("duration %d outside [%d, %d]", p.Duration, MinDuration, MaxDuration))
	}
	if err := ValidateURL(p.URL); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// CourseHeader validates a course identity.
func (Validator) CourseHeader(h CourseHeader) error {
	var errs []error
	if !CodePattern.MatchString(h.Code) {
		errs = append(errs, fmt.Errorf("code %q does not match %s", h.Code, CodePattern))
	}
	if err := ValidateURL(h.URL); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// CurriculumRow validates a curriculum row and the course it references.
func (v Validator) CurriculumRow(r CurriculumRow) error {
	var errs []error
	if err := v.CourseHeader(r.Course); err != nil {
		errs = append(errs, err)
	}
	if r.Type != CourseTypeMandatory && r.Type != CourseTypeElective {
		errs = append(errs, fmt.Errorf("unknown course type %q", r.Type))
	}
	if r.Semester < MinSemester || r.Semester > MaxSemester {
		errs = append(errs, fmt.Errorf("semester %d outside [%d, %d]", r.Semester, MinSemester, MaxSemester))
	}
	return errors.Join(errs...)
}

// CourseDetail validates a course detail record.
func (v Validator) CourseDetail(d CourseDetail) error {
	var errs []error
	if err := v.CourseHeader(d.CourseHeader); err != nil {
		errs = append(errs, err)
	}
	if d.Season != SeasonWinter && d.Season != SeasonSummer {
		errs = append(errs, fmt.Errorf("unknown season %q", d.Season))
	}
	return errors.Join(errs...)
}

// ValidateURL requires an absolute URL with scheme and host.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid url %q: not absolute", raw)
	}
	return nil
}
