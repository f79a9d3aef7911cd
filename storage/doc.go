// Package storage implements the artifact storage subsystem: a
// multi-backend object-storage manager that validates inputs, derives
// collision-free storage keys, routes each artifact to a configured
// backend and uploads with bounded retry.
//
// # Components
//
// The Manager is the single entry point. StoreArtifact performs, in
// order: content-type and size validation, key derivation and
// sanitization, routing-rule evaluation, and a retry-wrapped provider
// upload. Reads, deletes and presigned URL issuance are delegated
// straight to the resolved provider with no retry.
//
// Backends implement interfaces.Provider:
//
//   - LocalProvider — local filesystem beneath a confinement root, with
//     JSON sidecar metadata files
//   - S3Provider — Amazon S3 or compatible, native presigned URLs
//   - GCSProvider — Google Cloud Storage, V4 signed URLs
//   - SupabaseProvider — Supabase Storage over its REST API
//   - IPFSProvider — an IPFS node's mutable file system
//
// The Factory builds the provider registry from config.StorageConfig.
// Both the registry and the configuration are immutable after
// construction, so a Manager may be shared by any number of concurrent
// generation jobs without locking.
//
// # Storage Keys
//
// Keys are hierarchical:
//
//	tenant/artifact_type/[board_id/]artifact_id_<ts>_<suffix>/variant
//
// Every segment is restricted to [A-Za-z0-9._-]; keys containing "..",
// a leading "/" or a backslash are rejected with a SecurityError before
// any backend is touched. The timestamp plus random suffix guarantee
// that two stores of the same artifact never collide on a key.
//
// # Retry
//
// Uploads run through an explicit bounded state machine (attempting,
// backoff, succeeded, exhausted) with exponential backoff and an
// injectable clock. Validation and security failures are never retried;
// they occur before a provider is selected. Caller cancellation is
// observed between attempts.
package storage
