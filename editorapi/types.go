package editorapi

import (
	"context"
	"encoding/json"
	"errors"
)

const (
	MethodCallAction       = "method call"
	MethodResponseAction   = "method response"
	MethodSubscribedAction = "method subscribed"
)

var (
	ErrUnparsable        = errors.New("editorapi: unparsable message")
	ErrUnknownIdentifier = errors.New("editorapi: response with an unknown uniqueIdentifier")
	ErrUnexpectedAction  = errors.New("editorapi: unexpected action in response")
	ErrUntrustedOrigin   = errors.New("editorapi: message from untrusted origin")
	ErrNoCallback        = errors.New("expects a callback")
)

// Call is the envelope posted to the editor for every method invocation.
type Call struct {
	UniqueIdentifier string `json:"uniqueIdentifier"`
	MethodName       string `json:"methodName"`
	Args             []any  `json:"args,omitempty"`
	Action           string `json:"action"`
}

// MarshalJSON omits a nil argument list but keeps an empty one.
func (c Call) MarshalJSON() ([]byte, error) {
	type envelope struct {
		UniqueIdentifier string `json:"uniqueIdentifier"`
		MethodName       string `json:"methodName"`
		Args             *[]any `json:"args,omitempty"`
		Action           string `json:"action"`
	}
	e := envelope{
		UniqueIdentifier: c.UniqueIdentifier,
		MethodName:       c.MethodName,
		Action:           c.Action,
	}
	if c.Args != nil {
		e.Args = &c.Args
	}
	return json.Marshal(e)
}

func newCall(id, methodName string, args []any) *Call {
	return &Call{
		UniqueIdentifier: id,
		MethodName:       methodName,
		Args:             args,
		Action:           MethodCallAction,
	}
}

// Response is the envelope the editor posts back.
type Response struct {
	UniqueIdentifier string          `json:"uniqueIdentifier"`
	Action           string          `json:"action"`
	ReturnValue      json.RawMessage `json:"returnValue,omitempty"`
}

// Result is the conventional shape of editor return values.
// IsDirty is only present in hasChanged responses.
type Result struct {
	Success bool   `json:"success"`
	IsDirty *bool  `json:"isDirty,omitempty"`
	Message string `json:"message,omitempty"`
}

// Dirty reports whether the editor said the document has unsaved changes.
func (r Result) Dirty() bool {
	return r.IsDirty != nil && *r.IsDirty
}

// Clean reports whether the editor explicitly said there is nothing to save.
func (r Result) Clean() bool {
	return r.IsDirty != nil && !*r.IsDirty
}

// Callback receives the raw returnValue of a response.
type Callback func(returnValue json.RawMessage)

// ResultCallback receives a decoded Result, or the decode error.
type ResultCallback func(result Result, err error)

// MessageEvent is one inbound cross-document message.
type MessageEvent struct {
	Data   string
	Origin string
}

// Window is the peer a message can be posted to. Implementations drop
// messages whose targetOrigin does not match the peer, like postMessage.
type Window interface {
	PostMessage(ctx context.Context, data string, targetOrigin string) error
}

// MessageSource delivers inbound messages. Receive returns io.EOF once the
// source is closed.
type MessageSource interface {
	Receive(ctx context.Context) (MessageEvent, error)
}

// Port is a bidirectional messaging endpoint.
type Port interface {
	Window
	MessageSource
	Close() error
}

// OriginMatches applies the postMessage target origin rule.
func OriginMatches(targetOrigin, origin string) bool {
	return targetOrigin == "*" || targetOrigin == origin
}
