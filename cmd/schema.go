package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/catalog-scraper/internal/catalog"
	"github.com/JakeFAU/catalog-scraper/internal/config"
	"github.com/JakeFAU/catalog-scraper/internal/storage"
)

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "schema <dataset>",
		Short:     "Prints the Avro schema of a dataset",
		Long:      "Prints the Avro record schema written next to avro datasets. The record is named after the configured dataset name.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: catalog.Kinds(),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := args[0]
			columns, err := catalog.ColumnsFor(kind)
			if err != nil {
				return err
			}
			name := kind
			if cfg, ok := cmd.Context().Value(configKey).(config.Config); ok {
				name = datasetName(cfg.Datasets, kind)
			}
			schema, err := storage.AvroEncoder{}.Schema(name, columns)
			if err != nil {
				return fmt.Errorf("render schema: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), schema)
			return err
		},
	}
}

func datasetName(names config.DatasetsConfig, kind string) string {
	var name string
	switch kind {
	case catalog.KindStudyPrograms:
		name = names.StudyPrograms
	case catalog.KindCurricula:
		name = names.Curricula
	case catalog.KindCourses:
		name = names.Courses
	case catalog.KindResult:
		name = names.Result
	}
	if name == "" {
		return kind
	}
	return name
}
