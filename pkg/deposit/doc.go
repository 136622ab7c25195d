// Package deposit provides the normalized submission model used to forward
// accepted manuscripts to a funder-mandated repository, together with the
// entity graph types it is built from.
//
// A Submission is produced by the builder subpackage from a resolved
// EntitySet and the submission's metadata document. The assembler subpackage
// streams the Submission's files into a deposit package. Content stores
// (memory, filesystem, S3, MinIO, HTTP) and entity sources (memory,
// Postgres) are provided under subpackages.
//
// # Model Ownership
//
// A Submission owns a single ordered file list. The Manifest is a read-only
// view over that list, so the two can never diverge. All model values are
// created fresh per build and must be treated as immutable once returned.
package deposit
