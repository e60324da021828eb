// Package sqlite contains SQLite repository implementations for
// interferometer captures, packets, correlation runs and accumulated records.
//
// PacketSource and RecordSink adapt the stores to the pipeline's Source and
// Sink so a run can stream straight from and to the database. Schema is owned
// by internal/db migrations.
package sqlite
