package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/nugget/grantdesk/internal/llm"
	"github.com/nugget/grantdesk/internal/stream"
)

// ErrorCode classifies a failed turn for the client.
type ErrorCode string

const (
	// CodeIterationLimit: the model kept calling tools past the cap.
	CodeIterationLimit ErrorCode = "iteration_limit"
	// CodeProviderError: the provider call failed or its stream was invalid.
	CodeProviderError ErrorCode = "provider_error"
	// CodeCanceled: the client went away or the turn was cancelled.
	CodeCanceled ErrorCode = "canceled"
	// CodeStorageError: conversation state could not be read or written.
	CodeStorageError ErrorCode = "storage_error"
)

// ErrConversationAgent is returned when a request continues a
// conversation that was started by a different agent.
type ErrConversationAgent struct {
	ConversationID string
	Owner          string
	Requested      string
}

func (e *ErrConversationAgent) Error() string {
	return fmt.Sprintf("conversation %s belongs to agent %s, not %s", e.ConversationID, e.Owner, e.Requested)
}

// TurnError is a failed turn. Nothing from the turn was persisted.
type TurnError struct {
	Code ErrorCode
	Err  error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

// Message is the client-facing description of the failure.
func (e *TurnError) Message() string {
	switch e.Code {
	case CodeIterationLimit:
		return "The assistant used too many steps without finishing. Try a more specific request."
	case CodeCanceled:
		return "The request was cancelled."
	case CodeStorageError:
		return "The conversation could not be loaded or saved."
	}
	var pe *llm.ProviderError
	if errors.As(e.Err, &pe) {
		return fmt.Sprintf("The model provider returned an error (HTTP %d).", pe.Status)
	}
	var se *stream.StreamError
	if errors.As(e.Err, &se) {
		return "The model provider reported an error: " + se.Message
	}
	return "The model provider could not be reached."
}

// classify maps an error from a provider call or the sink to a turn
// error.
func classify(ctx context.Context, err error) *TurnError {
	var terr *TurnError
	if errors.As(err, &terr) {
		return terr
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, stream.ErrSinkClosed) {
		return &TurnError{Code: CodeCanceled, Err: err}
	}
	return &TurnError{Code: CodeProviderError, Err: err}
}

// storageFailure is classify for conversation store errors.
func storageFailure(ctx context.Context, err error) *TurnError {
	if ctx.Err() != nil {
		return &TurnError{Code: CodeCanceled, Err: err}
	}
	return &TurnError{Code: CodeStorageError, Err: err}
}
