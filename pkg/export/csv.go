// Package export writes result tables to CSV files and persists runs in a
// local SQLite database.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/chemharvest/chemharvest/pkg/engine"
)

// WriteCSV writes the table with a header row. Null fields are written as
// empty cells.
func WriteCSV(w io.Writer, table engine.Table) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(table.Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	row := make([]string, len(table.Columns))
	for _, record := range table.Rows {
		for i, col := range table.Columns {
			row[i], _ = record.Field(col)
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// SaveCSV writes the table to a file, replacing any existing content.
func SaveCSV(path string, table engine.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	if err := WriteCSV(f, table); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
