package engine

// MaxBatchSizeLimit is the largest batch any observed source accepts per
// submission.
const MaxBatchSizeLimit = 100

// ValidateBatchSize checks that size is within the accepted [1, 100] range.
func ValidateBatchSize(size int) error {
	if size < 1 {
		return &ConfigError{Option: "maxBatchSize", Reason: "must be at least 1"}
	}
	if size > MaxBatchSizeLimit {
		return &ConfigError{Option: "maxBatchSize", Reason: "must be at most 100"}
	}
	return nil
}

// SplitBatches partitions ids into jobs of at most maxBatchSize identifiers,
// preserving input order. The last job may be smaller; empty input yields no
// jobs. maxBatchSize = 1 degenerates to one job per identifier.
func SplitBatches(ids []Identifier, maxBatchSize int) []Job {
	if len(ids) == 0 {
		return nil
	}

	jobs := make([]Job, 0, (len(ids)+maxBatchSize-1)/maxBatchSize)
	for start := 0; start < len(ids); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		jobs = append(jobs, Job{
			Seq:   len(jobs),
			Batch: Batch(ids[start:end]),
		})
	}

	return jobs
}
