package export

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chemharvest/chemharvest/pkg/engine"
)

func sampleTable() engine.Table {
	return engine.Table{
		Columns: []string{"SMILES", "MW", "logP"},
		Rows: []engine.Record{
			{Identifier: "CCO", Fields: map[string]string{"SMILES": "CCO", "MW": "46.07", "logP": "-0.14"}},
			{Identifier: "C", Fields: map[string]string{"SMILES": "C", "MW": "16.04"}},
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleTable()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d lines", len(lines))
	}
	if lines[0] != "SMILES,MW,logP" {
		t.Errorf("unexpected header: %q", lines[0])
	}
	if lines[1] != "CCO,46.07,-0.14" {
		t.Errorf("unexpected row: %q", lines[1])
	}
	// Null fields come out as empty cells.
	if lines[2] != "C,16.04," {
		t.Errorf("expected empty cell for null field, got %q", lines[2])
	}
}

func TestSaveCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	if err := SaveCSV(path, sampleTable()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(raw), "SMILES,MW,logP\n") {
		t.Errorf("unexpected file content: %q", raw)
	}
}
