// Package results persists terminal session reports in SQLite.
//
// Stored reports back the trend baseline of later runs against the same URL
// and answer result lookups once a session has left the in-memory store.
package results
