package editorapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Instance talks to one editor window. Calls are correlated with their
// responses through the pending callback table.
type Instance struct {
	target       Window
	targetOrigin string
	callbacks    map[string]Callback
	mu           sync.Mutex
	generateID   func() string
	checkOrigin  bool
	logger       *slog.Logger

	Document *DocumentAPI
}

type Option func(*Instance)

// WithIDGenerator replaces the correlation id generator.
func WithIDGenerator(fn func() string) Option {
	return func(i *Instance) { i.generateID = fn }
}

// WithOriginCheck rejects inbound messages not coming from the target origin.
// It has no effect when the target origin is "*".
func WithOriginCheck() Option {
	return func(i *Instance) { i.checkOrigin = true }
}

// GeneratePseudoGUID returns a random v4-shaped identifier. It is not
// guaranteed to be securely random or globally unique.
func GeneratePseudoGUID() string {
	return uuid.NewString()
}

func GetInstance(target Window, targetOrigin string, logger *slog.Logger, opts ...Option) *Instance {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	i := &Instance{
		target:       target,
		targetOrigin: targetOrigin,
		callbacks:    make(map[string]Callback),
		generateID:   GeneratePseudoGUID,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(i)
	}
	i.Document = &DocumentAPI{parent: i}
	return i
}

// SimpleCall posts a method call and registers fn to receive its response.
// It returns the correlation id of the call.
func (i *Instance) SimpleCall(ctx context.Context, methodName string, args []any, fn Callback) (string, error) {
	if fn == nil {
		return "", fmt.Errorf("%s %w", methodName, ErrNoCallback)
	}

	callID := i.generateID()
	data, err := json.Marshal(newCall(callID, methodName, args))
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", methodName, err)
	}

	i.mu.Lock()
	i.callbacks[callID] = fn
	i.mu.Unlock()

	if err := i.target.PostMessage(ctx, string(data), i.targetOrigin); err != nil {
		i.Cancel(callID)
		return "", fmt.Errorf("post %s: %w", methodName, err)
	}
	i.logger.Debug("editor call posted", "method", methodName, "id", callID)
	return callID, nil
}

// Execute performs a call and waits for its first response.
func (i *Instance) Execute(ctx context.Context, methodName string, args []any) (json.RawMessage, error) {
	responseCh := make(chan json.RawMessage, 1)
	callID, err := i.SimpleCall(ctx, methodName, args, func(returnValue json.RawMessage) {
		select {
		case responseCh <- returnValue:
		default:
		}
	})
	if err != nil {
		return nil, err
	}

	select {
	case returnValue := <-responseCh:
		return returnValue, nil
	case <-ctx.Done():
		i.Cancel(callID)
		return nil, ctx.Err()
	}
}

// Cancel drops the pending callback for callID. A late response for it is
// then reported as unknown.
func (i *Instance) Cancel(callID string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, found := i.callbacks[callID]; !found {
		return false
	}
	delete(i.callbacks, callID)
	return true
}

// Pending returns the number of calls awaiting a response, subscriptions included.
func (i *Instance) Pending() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.callbacks)
}

// HandleMessage dispatches one inbound message to its pending callback.
func (i *Instance) HandleMessage(e MessageEvent) error {
	if i.checkOrigin && !OriginMatches(i.targetOrigin, e.Origin) {
		return fmt.Errorf("%w: %q", ErrUntrustedOrigin, e.Origin)
	}

	response, err := parseMessage(e)
	if err != nil {
		return err
	}

	i.mu.Lock()
	fn, err := validateMethodResponse(response, i.callbacks)
	if err == nil && response.Action != MethodSubscribedAction {
		delete(i.callbacks, response.UniqueIdentifier)
	}
	i.mu.Unlock()
	if err != nil {
		return err
	}

	fn(response.ReturnValue)
	return nil
}

// Listen feeds every message from src to HandleMessage until src is
// exhausted or ctx is done. Malformed or unmatched messages are logged and
// skipped.
func (i *Instance) Listen(ctx context.Context, src MessageSource) error {
	for {
		e, err := src.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("receive: %w", err)
		}
		if err := i.HandleMessage(e); err != nil {
			i.logger.Warn("editor message dropped", "origin", e.Origin, "error", err)
		}
	}
}

func parseMessage(e MessageEvent) (*Response, error) {
	response := &Response{}
	if err := json.Unmarshal([]byte(e.Data), response); err != nil {
		// Valid JSON of another shape carries no identifier.
		if json.Valid([]byte(e.Data)) {
			return &Response{}, nil
		}
		return nil, fmt.Errorf("%w: unable to parse a message received from %s as JSON, the data was '%s'",
			ErrUnparsable, e.Origin, e.Data)
	}
	return response, nil
}

func validateMethodResponse(response *Response, callbacks map[string]Callback) (Callback, error) {
	fn, found := callbacks[response.UniqueIdentifier]
	if !found {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIdentifier, response.UniqueIdentifier)
	}
	if response.Action != MethodResponseAction && response.Action != MethodSubscribedAction {
		return nil, fmt.Errorf("%w: '%s'", ErrUnexpectedAction, response.Action)
	}
	return fn, nil
}
