// internal/inference/types.go
package inference

import "fmt"

// ModelDescriptor is what the Inference Client knows about a discovered model.
type ModelDescriptor struct {
	Name           string `json:"name"`
	Digest         string `json:"digest"`
	ByteSize       int64  `json:"byte_size"`
	Family         string `json:"family,omitempty"`
	ParameterSize  string `json:"parameter_size,omitempty"`
	Quantization   string `json:"quantization,omitempty"`
}

// Format constrains the response shape the model is asked to produce.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// RunOptions configures a single RunInference call.
type RunOptions struct {
	Format      Format
	Temperature float64
	MaxTokens   int
	Stream      bool
	TimeoutMs   int64
}

// RunResult is the outcome of a successful RunInference call.
type RunResult struct {
	Response        string
	ExecutionTimeMs int64
}

// StreamChunk is one piece of a streaming RunInference response.
type StreamChunk struct {
	Response string
	Done     bool
}

// ErrorKind is the inference error taxonomy from spec.md §4.2: Timeout and
// ModelNotFound and permanent (4xx-class) errors never retry; TransientError
// is the only retryable kind.
type ErrorKind string

const (
	ErrorKindTimeout        ErrorKind = "Timeout"
	ErrorKindModelNotFound  ErrorKind = "ModelNotFound"
	ErrorKindTransient      ErrorKind = "TransientError"
	ErrorKindPermanent      ErrorKind = "PermanentError"
)

// Error wraps an inference failure with its taxonomy kind.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the error kind permits a retry attempt.
func (e *Error) Retryable() bool {
	return e.Kind == ErrorKindTransient
}

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
