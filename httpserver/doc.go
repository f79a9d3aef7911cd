// Package httpserver implements the artifact file server: direct
// serving of objects held by a filesystem-backed provider, the upload
// endpoint targeted by that provider's presigned-upload descriptors,
// and the liveness/readiness/drain surface used by orchestration.
package httpserver
