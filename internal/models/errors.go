package models

import "errors"

var (
	// ErrEmptyCorpus means no chunks are indexed; ingest documents first.
	ErrEmptyCorpus = errors.New("empty corpus")
	// ErrIndexUnavailable means the vector backend cannot be reached or stayed corrupted after a rebuild.
	ErrIndexUnavailable = errors.New("index unavailable")
	// ErrIndexCorrupted is returned by a vector store whose persisted state cannot be decoded.
	ErrIndexCorrupted = errors.New("index corrupted")
	// ErrTransport covers unreachable or failing embedding/completion services, including timeouts.
	ErrTransport = errors.New("transport failure")
	// ErrMalformedResponse means the service replied but the reply has no usable content.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrInvalidDocument is returned for documents that cannot be chunked.
	ErrInvalidDocument = errors.New("invalid document")
	// ErrSynthesis wraps fatal answer generation failures.
	ErrSynthesis = errors.New("synthesis failed")
	// ErrNotFound is returned by storage lookups for unknown IDs.
	ErrNotFound = errors.New("not found")
)
