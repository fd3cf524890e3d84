package catalog

import (
	"maps"
	"regexp"
	"strings"
)

// Field keys understood by CorrectFields.
const (
	FieldCode   = "code"
	FieldNameMK = "name_mk"
	FieldNameEN = "name_en"
)

// CodePattern matches a catalog course code prefix.
var CodePattern = regexp.MustCompile(`^F23L[1-3][SW]\d{3}`)

// CorrectFields repairs rows whose name cell carries "<code> <name>".
// The Macedonian name is inspected first, falling back to the English one.
// The input is never modified; a corrected copy is returned when a fix applies.
func CorrectFields(fields map[string]string) map[string]string {
	key := FieldNameMK
	name := strings.TrimSpace(fields[FieldNameMK])
	if name == "" {
		key = FieldNameEN
		name = strings.TrimSpace(fields[FieldNameEN])
	}
	if name == "" || !CodePattern.MatchString(name) {
		return fields
	}

	tokens := strings.Fields(name)
	out := maps.Clone(fields)
	out[FieldCode] = tokens[0]
	out[key] = strings.Join(tokens[1:], " ")
	return out
}
