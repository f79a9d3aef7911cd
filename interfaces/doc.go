// Package interfaces defines the core interfaces and types for the artifact
// storage system. It provides the contract between different components
// without implementation details.
//
// # Provider Interface
//
// Provider is the contract every storage backend must satisfy:
//
//   - Upload stores content under a key and returns a resolvable URL
//   - Download retrieves stored content by key
//   - PresignUpload and PresignDownload issue time-limited URLs for
//     direct client access that bypasses this process
//   - Delete removes an object, reporting whether it existed
//   - Exists and Metadata inspect stored objects
//
// Implementations exist for the local filesystem, Amazon S3 (and
// compatible services), Google Cloud Storage, Supabase Storage and IPFS.
//
// # Provider Kinds
//
// ProviderKind is a tagged discriminator exposed by every provider so
// call sites never depend on concrete backend types. Code that needs the
// local filesystem capability (for example the file-serving endpoint)
// checks Kind().DirectFilesystemAccess() instead of a type assertion,
// letting new backends opt into the same capability.
//
// # Error Taxonomy
//
// Three error classes cross the package boundary:
//
//   - ValidationError: disallowed content type or oversized content.
//     Raised before any provider is invoked, never retried.
//   - SecurityError: storage key sanitization failure or path escape.
//     Raised before any filesystem or network mutation, never retried.
//   - StorageError: unknown provider name, or a provider-level failure.
//     Wraps the underlying cause for diagnosis.
//
// Providers additionally report missing objects with ErrNotFound so
// callers can distinguish absence from infrastructure failure.
package interfaces
