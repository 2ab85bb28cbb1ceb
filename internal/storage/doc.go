// Package storage persists market ticks and bars. Rows are buffered in
// memory and flushed on an interval; the backend is selected by driver
// (csv, sqlite or mysql) so a deployment can trade file portability for
// queryable history without touching the ingest path. The CSV backend
// additionally archives finished months into zip files and prunes
// archives past the retention horizon.
package storage
