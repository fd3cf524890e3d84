package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-scraper/internal/catalog"
)

func programsDataset() catalog.Dataset {
	return catalog.NewDataset("study_programs", catalog.StudyProgramColumns, []catalog.StudyProgram{
		{Name: "Software Engineering", Duration: 4, URL: "https://finki.ukim.mk/program/F23SIIS-mk"},
		{Name: "Computer Science", Duration: 4, URL: "https://finki.ukim.mk/program/F23KN-mk"},
	})
}

func TestWriteDatasetCopiesRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	w, err := NewTableWriterWithPool(mock, "catalog_")
	require.NoError(t, err)

	ds := programsDataset()
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS catalog_study_programs").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec("DELETE FROM catalog_study_programs WHERE run_id").
		WithArgs("run-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(
		pgx.Identifier{"catalog_study_programs"},
		[]string{"run_id", "study_program_name", "study_program_duration", "study_program_url"},
	).WillReturnResult(2)
	mock.ExpectCommit()

	res, err := w.WriteDataset(context.Background(), "run-1", ds)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, "postgres://catalog_study_programs?run_id=run-1", res.Location)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteDatasetRollsBackOnCopyFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	w, err := NewTableWriterWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS study_programs").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec("DELETE FROM study_programs").
		WithArgs("run-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(
		pgx.Identifier{"study_programs"},
		[]string{"run_id", "study_program_name", "study_program_duration", "study_program_url"},
	).WillReturnError(errors.New("connection lost"))
	mock.ExpectRollback()

	_, err = w.WriteDataset(context.Background(), "run-1", programsDataset())
	require.ErrorContains(t, err, "copy into study_programs")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTableNameValidation(t *testing.T) {
	t.Parallel()

	_, err := NewTableWriterWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewTableWriterWithPool(mock, "bad-prefix")
	require.Error(t, err)

	w, err := NewTableWriterWithPool(mock, "")
	require.NoError(t, err)
	_, err = w.WriteDataset(context.Background(), "run-1", catalog.Dataset{Name: "drop table;"})
	require.ErrorContains(t, err, "invalid table name")
}

func TestCreateTableSQL(t *testing.T) {
	t.Parallel()

	sql := createTableSQL("courses", catalog.CourseDetailColumns)
	assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS courses")
	assert.Contains(t, sql, "run_id TEXT NOT NULL")
	assert.Contains(t, sql, "course_academic_year INTEGER")
	assert.Contains(t, sql, "course_code TEXT")
}
