// Package core provides the job and file lifecycle of snapshot imports.
//
// A snapshot export is one or more JSON files in a bucket. Importing it
// replays every entity, relationship and dictionary into a target scope of
// the entity store. This package owns the state machine and the controllers;
// parsing, writing and counting live in the parser, executor and progress
// packages.
//
// # Lifecycle
//
// Jobs and FileUnits share one state machine:
//
//	CREATED -> SCHEDULED -> STARTED -> FINISHED | FAILED
//
// [Service.Schedule] validates the configuration bag into an [ImportConfig],
// records the job and hands it to a [JobScheduler]. [JobController.Run]
// lists the bucket, creates and links one [FileUnit] per file, and hands
// each to a [FileScheduler]. [FileController.Run] imports a file in two
// passes, entities first, and [JobController.Aggregate] moves the job to a
// terminal state once every file is terminal.
//
// # Failure Model
//
//   - Precondition failures (unknown organization or scope, unreachable
//     bucket, failed download) fail the job or file before any write.
//   - Structural parse failures fail the file; the other pass is skipped.
//   - Per-record store failures are counted and sampled; they never change
//     a file's state.
//   - An empty bucket finishes the job with an informational message.
//
// Any failed file fails the job. There is no partial-success state.
//
// # Resume
//
// Progress is persisted at the end of each pass. A re-run of a STARTED file
// skips as many leading events of each pass as were already processed.
// Events committed after the last persisted pass are written again, so
// resume is at-least-once.
//
// # Error Codes
//
// Stored error messages are mapped to user messages with [MapError]; see
// error_messages.go for the code reference.
package core
