package errors

import "errors"

// Pipeline failure taxonomy. Stage code inspects these with errors.Is to
// decide between retry, local recovery, and terminal failure.
var (
	// ErrUnsupportedFormat means the uploaded file has no reliable extractor
	// (legacy .doc, unknown binary). Terminal for the extraction job.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrEmptyExtraction means extraction produced too little text to be
	// useful. Treated as a processing failure, never a silent success.
	ErrEmptyExtraction = errors.New("extraction produced no usable text")
	// ErrEmbeddingServiceUnavailable means the embedding backend could not be
	// reached. Retryable under the queue policy.
	ErrEmbeddingServiceUnavailable = errors.New("embedding service unavailable")
	// ErrDuplicateJob means an active job already holds the same dedupe key.
	ErrDuplicateJob = errors.New("duplicate job for dedupe key")
	// ErrGenerationTimeout means the structuring model call timed out. Always
	// recovered locally by falling back to the raw text.
	ErrGenerationTimeout = errors.New("content generation timed out")
	// ErrVectorStoreWrite means the vector store rejected a mutation.
	// Retryable under the queue policy.
	ErrVectorStoreWrite = errors.New("vector store write failed")
	// ErrMaterialNotFound means the material row no longer exists. Terminal
	// for any job referencing it; other load errors stay retryable.
	ErrMaterialNotFound = errors.New("material not found")
)
