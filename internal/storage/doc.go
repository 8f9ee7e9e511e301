// Package storage persists service run records.
//
// Two drivers are provided: an embedded sqlite database (the default for
// long runs, WAL mode, single writer) and an append-only jsonl file that
// is trivially greppable after short experiments. Storage is optional;
// with no driver configured the recorder only logs.
package storage
