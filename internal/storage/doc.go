// Package storage holds the document index: one record per known URL with
// its freshness and load dates. The recrawl job reads it through QueryStale;
// nothing in a cycle writes to it.
//
// Two drivers exist: "sqlite" (modernc.org/sqlite) and "file" (an in-memory
// map persisted as snapshot plus append-only journal).
package storage
