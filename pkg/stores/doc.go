// Package stores persists estimation run history in SQLite.
//
// A run is stored once it has finished: the runs table keeps the summary and
// the full report JSON, service_results keeps one row per request in request
// order, and events is an append-only log fed by the telemetry publisher.
// Schema changes are applied with embedded golang-migrate migrations.
package stores
