package auditrag

import (
	"errors"
	"fmt"
)

// Kind classifies an AppError into the taxonomy the core surfaces to
// callers. cmd/server chooses each error response's status code per
// handler and writes a JSON body carrying only an "error" message;
// neither Kind nor Retryable is included in that body.
type Kind string

const (
	KindParseError       Kind = "ParseError"
	KindChunkError       Kind = "ChunkError"
	KindEmbeddingError   Kind = "EmbeddingError"
	KindVectorStoreError Kind = "VectorStoreError"
	KindGraphStoreError  Kind = "GraphStoreError"
	KindRegistryError    Kind = "RegistryError"
	KindRerankError      Kind = "RerankError"
	KindProviderTimeout  Kind = "ProviderTimeout"
	KindLLMError         Kind = "LLMError"
	KindCancelled        Kind = "Cancelled"
	KindBadRequest       Kind = "BadRequest"
	KindNotFound         Kind = "NotFound"
	KindConflict         Kind = "Conflict"
)

// AppError is the single error type every core component returns.
// Transport code type-asserts via errors.As to recover Kind and
// Retryable without parsing message strings.
type AppError struct {
	Kind      Kind
	Message   string
	Retryable bool
	Cause     error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

func newErr(kind Kind, retryable bool, format string, args ...any) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...), Retryable: retryable}
}

func wrapErr(kind Kind, retryable bool, cause error, format string, args ...any) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...), Retryable: retryable, Cause: cause}
}

// NewParseError wraps a parser failure. Parsers never partial-commit;
// the caller treats the whole unit as failed.
func NewParseError(file string, cause error) *AppError {
	return wrapErr(KindParseError, false, cause, "parsing %s", file)
}

// NewChunkError reports a chunker invariant violation, including the
// zero-chunk-document case (see Open Question iii).
func NewChunkError(doc string, cause error) *AppError {
	return wrapErr(KindChunkError, false, cause, "chunking %s", doc)
}

// NewEmbeddingError reports an embedding batch failure. Exponential
// backoff retries happen inside the OpenAI-compatible LLM client before
// an error reaches this point; no caller retries an EmbeddingError.
func NewEmbeddingError(retryable bool, cause error) *AppError {
	return wrapErr(KindEmbeddingError, retryable, cause, "embedding batch")
}

func NewVectorStoreError(op string, cause error) *AppError {
	return wrapErr(KindVectorStoreError, false, cause, "vector store %s", op)
}

func NewGraphStoreError(op string, cause error) *AppError {
	return wrapErr(KindGraphStoreError, false, cause, "graph store %s", op)
}

func NewRegistryError(op string, cause error) *AppError {
	return wrapErr(KindRegistryError, false, cause, "registry %s", op)
}

func NewRerankError(cause error) *AppError {
	return wrapErr(KindRerankError, true, cause, "rerank")
}

func NewProviderTimeout(provider string) *AppError {
	return newErr(KindProviderTimeout, true, "%s exceeded its total budget", provider)
}

func NewLLMError(cause error) *AppError {
	return wrapErr(KindLLMError, true, cause, "llm request")
}

func NewCancelled() *AppError {
	return newErr(KindCancelled, false, "operation cancelled")
}

func NewBadRequest(format string, args ...any) *AppError {
	return newErr(KindBadRequest, false, format, args...)
}

func NewNotFound(format string, args ...any) *AppError {
	return newErr(KindNotFound, false, format, args...)
}

func NewConflict(format string, args ...any) *AppError {
	return newErr(KindConflict, false, format, args...)
}

// IsKind reports whether err (or something it wraps) is an AppError
// of the given kind.
func IsKind(err error, kind Kind) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}
