// Package cmd defines and implements the CLI commands for the fictionarchiver executable.
//
// Architecture overview:
//   - archive: for every initial chapter URL, internal/run.Coordinator derives the fiction slug, opens a fresh
//     bounded relay, and runs the chapter walker and the archive writer side by side. The walker fetches pages
//     strictly one after another through the Colly fetcher, extracts text and navigation buttons with goquery, and
//     hands each chapter to the relay on its own goroutine. The writer appends every chapter it receives to a tar
//     stream wrapped in brotli, zstd or gzip, then finalizes tar, compressor, buffer and file in that order.
//   - Runs are independent: a failing fiction does not stop the ones after it, but any failure makes the process
//     exit non-zero.
//   - Publishing: finished archives are optionally copied to a local directory or a GCS bucket.
//   - list: prints the entries of an existing archive.
//
// Operational notes:
//   - Configuration comes from an optional YAML file, ARCHIVER_* environment variables and flags, in increasing
//     order of precedence. Example: ARCHIVER_ARCHIVE_OUTPUT_DIR=/srv/archives.
//   - Relay policy drop-oldest never blocks the walker and may lose chapters under sustained overload (each loss is
//     logged and counted); block trades that for backpressure.
//   - Set metrics.addr (or --metrics-addr) to expose /metrics and /healthz while runs are in progress.
//   - SIGINT/SIGTERM cancel in-flight fetches; the current archive is still finalized.
package cmd
