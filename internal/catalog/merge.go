package catalog

// Merge inner-joins curriculum rows with course details on course code.
// Rows with no matching detail are returned as dropped so callers can report them.
func Merge(rows []CurriculumRow, details []CourseDetail) (merged []MergedRecord, dropped []CurriculumRow) {
	byCode := make(map[string]CourseDetail, len(details))
	for _, d := range details {
		if _, ok := byCode[d.Code]; !ok {
			byCode[d.Code] = d
		}
	}

	merged = make([]MergedRecord, 0, len(rows))
	for _, row := range rows {
		detail, ok := byCode[row.Course.Code]
		if !ok {
			dropped = append(dropped, row)
			continue
		}
		merged = append(merged, MergedRecord{Row: row, Detail: detail})
	}
	return merged, dropped
}
