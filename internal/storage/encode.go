package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"regexp"

	"github.com/linkedin/goavro/v2"

	"github.com/JakeFAU/catalog-scraper/internal/catalog"
)

// Format names an on-disk dataset encoding.
type Format string

// Supported formats.
const (
	FormatCSV  Format = "csv"
	FormatAvro Format = "avro"
)

// SchemaExtension is the file extension of companion Avro schemas.
const SchemaExtension = "avsc"

// AvroNamespace is the namespace of generated record schemas.
const AvroNamespace = "mk.ukim.finki"

// Encoder serializes a dataset.
type Encoder interface {
	Extension() string
	ContentType() string
	Encode(w io.Writer, ds catalog.Dataset) error
}

// SchemaEncoder is an Encoder whose output is described by a separate schema document.
type SchemaEncoder interface {
	Encoder
	Schema(name string, columns []catalog.Column) (string, error)
}

// NewEncoder returns the Encoder for f. The empty format is CSV.
func NewEncoder(f Format) (Encoder, error) {
	switch f {
	case FormatCSV, "":
		return CSVEncoder{}, nil
	case FormatAvro:
		return AvroEncoder{}, nil
	default:
		return nil, fmt.Errorf("unsupported storage format %q", f)
	}
}

// CSVEncoder writes a header row followed by one line per record.
type CSVEncoder struct{}

// Extension implements Encoder.
func (CSVEncoder) Extension() string { return "csv" }

// ContentType implements Encoder.
func (CSVEncoder) ContentType() string { return "text/csv; charset=utf-8" }

// Encode implements Encoder.
func (CSVEncoder) Encode(w io.Writer, ds catalog.Dataset) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(catalog.ColumnNames(ds.Columns)); err != nil {
		return err
	}
	record := make([]string, len(ds.Columns))
	for i, row := range ds.Rows {
		if len(row) != len(ds.Columns) {
			return fmt.Errorf("row %d has %d values, want %d", i, len(row), len(ds.Columns))
		}
		for j, col := range ds.Columns {
			record[j] = col.Format(row[j])
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// AvroEncoder writes an Avro object container file.
type AvroEncoder struct{}

// Extension implements Encoder.
func (AvroEncoder) Extension() string { return "avro" }

// ContentType implements Encoder.
func (AvroEncoder) ContentType() string { return "application/avro" }

type avroField struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Doc  string `json:"doc,omitempty"`
}

type avroRecord struct {
	Type      string      `json:"type"`
	Name      string      `json:"name"`
	Namespace string      `json:"namespace"`
	Fields    []avroField `json:"fields"`
}

var invalidAvroName = regexp.MustCompile(`[^A-Za-z0-9_]`)

// Schema renders the Avro record schema of a dataset.
func (AvroEncoder) Schema(name string, columns []catalog.Column) (string, error) {
	recordName := invalidAvroName.ReplaceAllString(name, "_")
	if recordName == "" || (recordName[0] >= '0' && recordName[0] <= '9') {
		recordName = "_" + recordName
	}
	rec := avroRecord{Type: "record", Name: recordName, Namespace: AvroNamespace}
	for _, c := range columns {
		typ := "string"
		if c.Kind == catalog.ColumnInt {
			typ = "int"
		}
		rec.Fields = append(rec.Fields, avroField{Name: c.Name, Type: typ, Doc: c.Doc})
	}
	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Encode implements Encoder.
func (e AvroEncoder) Encode(w io.Writer, ds catalog.Dataset) error {
	schema, err := e.Schema(ds.Name, ds.Columns)
	if err != nil {
		return err
	}
	codec, err := goavro.NewCodec(schema)
	if err != nil {
		return fmt.Errorf("compile avro schema: %w", err)
	}
	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{W: w, Codec: codec})
	if err != nil {
		return fmt.Errorf("open avro container: %w", err)
	}
	records := make([]any, 0, len(ds.Rows))
	for i, row := range ds.Rows {
		if len(row) != len(ds.Columns) {
			return fmt.Errorf("row %d has %d values, want %d", i, len(row), len(ds.Columns))
		}
		rec := make(map[string]any, len(ds.Columns))
		for j, col := range ds.Columns {
			rec[col.Name] = avroValue(col, row[j])
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil
	}
	return ocf.Append(records)
}

func avroValue(col catalog.Column, v any) any {
	if col.Kind == catalog.ColumnInt {
		if n, ok := v.(int); ok {
			return int32(n)
		}
		return int32(0)
	}
	return col.Format(v)
}
