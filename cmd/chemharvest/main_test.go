package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestReadIdentifiersFromArgs(t *testing.T) {
	got, err := readIdentifiers("", []string{"CCO", "C"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"CCO", "C"}) {
		t.Errorf("unexpected identifiers: %v", got)
	}
}

func TestReadIdentifiersFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smiles.txt")
	content := "CCO\n\n# a comment\n  C  \nCCC\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := readIdentifiers(path, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"CCO", "C", "CCC"}) {
		t.Errorf("unexpected identifiers: %v", got)
	}
}

func TestReadIdentifiersEmpty(t *testing.T) {
	if _, err := readIdentifiers("", nil); err == nil {
		t.Error("expected error without input")
	}

	path := filepath.Join(t.TempDir(), "empty.txt")
	if err := os.WriteFile(path, []byte("# only comments\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := readIdentifiers(path, nil); err == nil {
		t.Error("expected error for empty file")
	}
}
