// Package backend abstracts the content store underneath the document
// layer: whole-blob reads and compare-and-swap writes against a single
// path, nothing more.
package backend

import "context"

// Content is one versioned blob. Version is an opaque token; callers
// only ever hand it back unchanged on the next write.
type Content struct {
	Data    []byte
	Version string
}

// ContentBackend is the substrate contract. Read fails with
// errs.ErrNotFound if the path has never been written. Write fails with
// errs.ErrConflict if expectedVersion no longer matches the backend's
// current version; an empty expectedVersion means "create, must not
// already exist". Transport-level failures map to errs.ErrUnavailable.
type ContentBackend interface {
	Read(ctx context.Context, path string) (Content, error)
	Write(ctx context.Context, path string, data []byte, expectedVersion string) (string, error)
}
