// Package core provides the staging pipeline for sales exports.
//
// The package has no transport dependencies. The HTTP server, the CLI and the
// inbox watcher all call the same [Service].
//
// # Pipeline
//
// Every ingestion runs the same two phases:
//
//  1. Prepare: the source is materialized as CSV text (gzip and zstd are
//     decompressed, xlsx workbooks converted), the dialect is sniffed and the
//     header is resolved against the [Catalog] aliases plus any caller
//     overrides. A header that cannot cover every staging column fails here,
//     before any SQL runs.
//  2. Load: rows are normalized (pt-BR decimals and dates, short rows padded) into a
//     staged CSV file, which the [Loader] copies into the staging table in a
//     single transaction. Full loads clear the table first, falling back from
//     TRUNCATE to DELETE when configured.
//
// Memory stays bounded by the buffer sizes regardless of file size; all
// intermediate data lives in temp files that are removed on every path.
//
// # Concurrency
//
// [IngestLimiter] bounds parallel ingestions. A caller that cannot get a slot
// within the configured wait gets [ErrBusy].
//
// # Error Handling
//
// Errors are typed by phase: [DownloadError], [FormatError], [MappingError],
// [MissingColumnsError], [LoadError] and [RequestError]. [Kind] classifies
// them for transports, and [MapError] turns them into user-facing messages
// with a support code:
//
//   - DL001: download failures
//   - FMT001-FMT003: unreadable sources and missing columns
//   - MAP001-MAP002: bad header overrides
//   - LOAD001-LOAD004: warehouse failures by stage
//   - BLD001-BLD003: downstream build failures
package core
