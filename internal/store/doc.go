// Package store persists crawl records as JSON Lines collections. Each
// collection is two files: the canonical deduplicated snapshot ({name}.jsonl)
// and the append-only incremental log ({name}.jsonl.tmp) written as records are
// discovered. The snapshot is always rebuilt from the previous snapshot plus the
// new records of a phase, never from the log.
package store
