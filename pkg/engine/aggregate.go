package engine

import (
	"sort"
)

// Table is an ordered sequence of extracted rows with a stable column
// schema. Rows for failed jobs are absent, not padded with nulls.
type Table struct {
	Columns []string
	Rows    []Record
}

// Empty reports whether the table has no rows.
func (t Table) Empty() bool {
	return len(t.Rows) == 0
}

// Summary reports how the run went. Each job contributes to exactly one of
// the two buckets.
type Summary struct {
	Succeeded int
	Failed    int
	Total     int

	// Failures carries the per-job error details so callers can tell
	// which identifiers are missing from the table.
	Failures []FailureDetail
}

// FailureDetail identifies one failed job.
type FailureDetail struct {
	Batch   Batch
	Message string
}

// Aggregate merges all job outcomes into a single ordered table. Outcomes
// are sorted by job sequence first, so the result is deterministic no matter
// in which order the jobs completed. The input slice is not modified;
// aggregating the same outcomes twice yields identical tables.
//
// When columns are given they define the table schema; otherwise the schema
// is the sorted union of all field names. Zero successful outcomes yield an
// empty table, not an error.
func Aggregate(outcomes []Outcome, columns ...string) (Table, Summary) {
	ordered := make([]Outcome, len(outcomes))
	copy(ordered, outcomes)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Job.Seq < ordered[j].Job.Seq
	})

	summary := Summary{Total: len(ordered)}
	var rows []Record

	for _, out := range ordered {
		if out.Failed() {
			summary.Failed++
			summary.Failures = append(summary.Failures, FailureDetail{
				Batch:   out.Job.Batch,
				Message: out.Err.Error(),
			})
			continue
		}
		summary.Succeeded++
		rows = append(rows, out.Records...)
	}

	table := Table{Rows: rows}
	if len(columns) > 0 {
		table.Columns = append([]string(nil), columns...)
	} else {
		table.Columns = unionColumns(rows)
	}

	return table, summary
}

// LeftJoin merges detail rows into base rows by the value of the key column.
// Every base row is retained even when its detail lookup failed or is
// missing; the detail fields of such rows stay null. Neither input table is
// modified.
func LeftJoin(base, detail Table, key string) Table {
	index := make(map[string]Record, len(detail.Rows))
	for _, row := range detail.Rows {
		v, ok := row.Field(key)
		if !ok {
			continue
		}
		if _, dup := index[v]; !dup {
			index[v] = row
		}
	}

	columns := append([]string(nil), base.Columns...)
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		seen[c] = true
	}
	for _, c := range detail.Columns {
		if !seen[c] {
			seen[c] = true
			columns = append(columns, c)
		}
	}

	rows := make([]Record, 0, len(base.Rows))
	for _, b := range base.Rows {
		merged := Record{
			Identifier: b.Identifier,
			Fields:     make(map[string]string, len(b.Fields)),
		}
		for k, v := range b.Fields {
			merged.Fields[k] = v
		}

		if keyVal, ok := b.Field(key); ok {
			if d, ok := index[keyVal]; ok {
				for k, v := range d.Fields {
					if _, exists := merged.Fields[k]; !exists {
						merged.Fields[k] = v
					}
				}
			}
		}

		rows = append(rows, merged)
	}

	return Table{Columns: columns, Rows: rows}
}

func unionColumns(rows []Record) []string {
	set := make(map[string]bool)
	for _, r := range rows {
		for name := range r.Fields {
			set[name] = true
		}
	}

	columns := make([]string, 0, len(set))
	for name := range set {
		columns = append(columns, name)
	}
	sort.Strings(columns)
	return columns
}
