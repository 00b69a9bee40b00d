package adapter

import (
	"errors"
	"fmt"
)

// Kind classifies why a generation call failed.
type Kind string

const (
	KindTransport     Kind = "transport"
	KindSafetyBlock   Kind = "safety_block"
	KindTextOnly      Kind = "text_only"
	KindEmptyResponse Kind = "empty_response"
	KindAbnormalStop  Kind = "abnormal_stop"
)

// Sentinels for errors.Is matching against a GenerationError's kind.
var (
	ErrTransport     = errors.New("transport failure")
	ErrSafetyBlock   = errors.New("content blocked")
	ErrTextOnly      = errors.New("text response instead of image")
	ErrEmptyResponse = errors.New("empty response")
	ErrAbnormalStop  = errors.New("abnormal stop")
)

var kindSentinels = map[Kind]error{
	KindTransport:     ErrTransport,
	KindSafetyBlock:   ErrSafetyBlock,
	KindTextOnly:      ErrTextOnly,
	KindEmptyResponse: ErrEmptyResponse,
	KindAbnormalStop:  ErrAbnormalStop,
}

// GenerationError wraps provider failures with a classification.
type GenerationError struct {
	Adapter string
	Kind    Kind
	// Reason is the provider's own reason code, e.g. a block reason or finish reason.
	Reason  string
	Message string
	Err     error
}

func (e *GenerationError) Error() string {
	if e == nil {
		return "generation error"
	}
	prefix := e.Adapter
	if prefix == "" {
		prefix = "adapter"
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = fmt.Sprintf("generation failed (%s)", e.Kind)
	}
	return fmt.Sprintf("%s API error: %s", prefix, msg)
}

func (e *GenerationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *GenerationError) Is(target error) bool {
	if e == nil {
		return false
	}
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// KindOf returns the classification of err, or "" if it is not a GenerationError.
func KindOf(err error) Kind {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return genErr.Kind
	}
	return ""
}

func transportError(adapter string, err error) *GenerationError {
	return &GenerationError{Adapter: adapter, Kind: KindTransport, Err: err}
}
