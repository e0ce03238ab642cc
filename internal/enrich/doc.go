// Package enrich advances ingested entries through the search, completion
// and scoring stages. Each stage reads a batch of entries in its input state
// under a stage-wide lock and records a success or failure state per entry.
package enrich
