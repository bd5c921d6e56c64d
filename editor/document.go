package editor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/kiaplayer/go-editor-rpc/editorapi"
)

// Document is an in-memory editor document answering the document API.
type Document struct {
	mu            sync.Mutex
	dirty         bool
	uncommitted   bool
	requiredAreas []string
	current       string
	hasTabNav     bool
	saveErr       error
	saves         int

	server *Server
}

// AreaResult answers the required edit area methods.
type AreaResult struct {
	Success bool   `json:"success"`
	Area    string `json:"area,omitempty"`
	Message string `json:"message,omitempty"`
}

// TabNavResult is pushed to tab navigation subscribers when the editor
// gives control back to the host.
type TabNavResult struct {
	Success bool `json:"success"`
	Forward bool `json:"forward"`
}

// ReplayEvent is pushed to replay event listeners.
type ReplayEvent struct {
	EventName string          `json:"eventName"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func NewDocument(requiredAreas ...string) *Document {
	return &Document{requiredAreas: requiredAreas}
}

// Register attaches every document method to s.
func (d *Document) Register(s *Server) {
	d.server = s
	s.AttachHandler(editorapi.MethodHasChanged, HandlerFunc(d.hasChanged), 0)
	s.AttachHandler(editorapi.MethodSave, HandlerFunc(d.save), 0)
	s.AttachHandler(editorapi.MethodImplicitSave, HandlerFunc(d.save), 0)
	s.AttachHandler(editorapi.MethodGetFirstRequiredEditArea, HandlerFunc(d.firstRequiredArea), 0)
	s.AttachHandler(editorapi.MethodNavigateToFirstRequiredEditableArea, HandlerFunc(d.navigate), 0)
	s.AttachHandler(editorapi.MethodPassTabNavControl, HandlerFunc(d.takeTabNav), 0)
	s.AttachSubscription(editorapi.MethodRegisterTabNavCallback, HandlerFunc(d.subscribed), 0)
	s.AttachSubscription(editorapi.MethodAddReplayEventListener, HandlerFunc(d.subscribed), 0)
}

// Edit records a committed change. With uncommitted set the change stays in
// the active variable area until the next save that includes it.
func (d *Document) Edit(uncommitted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if uncommitted {
		d.uncommitted = true
		return
	}
	d.dirty = true
}

// FailSaves makes every save answer with err until called with nil.
func (d *Document) FailSaves(err error) {
	d.mu.Lock()
	d.saveErr = err
	d.mu.Unlock()
}

func (d *Document) Saves() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.saves
}

// ReturnTabNav hands keyboard navigation back to the host.
func (d *Document) ReturnTabNav(ctx context.Context, forward bool) error {
	d.mu.Lock()
	d.hasTabNav = false
	d.mu.Unlock()
	return d.server.Notify(ctx, editorapi.MethodRegisterTabNavCallback, nil, TabNavResult{Success: true, Forward: forward})
}

// Replay notifies listeners registered for eventName.
func (d *Document) Replay(ctx context.Context, eventName string, payload json.RawMessage) error {
	match := func(args []json.RawMessage) bool {
		var name string
		return len(args) > 0 && json.Unmarshal(args[0], &name) == nil && name == eventName
	}
	return d.server.Notify(ctx, editorapi.MethodAddReplayEventListener, match, ReplayEvent{EventName: eventName, Payload: payload})
}

func (d *Document) hasChanged(_ context.Context, args []json.RawMessage) (any, error) {
	include, err := boolArg(args, false)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	dirty := d.dirty || (include && d.uncommitted)
	return editorapi.Result{Success: true, IsDirty: &dirty}, nil
}

func (d *Document) save(_ context.Context, args []json.RawMessage) (any, error) {
	include, err := boolArg(args, false)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.saveErr != nil {
		return nil, d.saveErr
	}
	d.dirty = false
	if include {
		d.uncommitted = false
	}
	d.saves++
	return editorapi.Result{Success: true}, nil
}

func (d *Document) firstRequiredArea(_ context.Context, _ []json.RawMessage) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.requiredAreas) == 0 {
		return AreaResult{Success: true}, nil
	}
	return AreaResult{Success: true, Area: d.requiredAreas[0]}, nil
}

func (d *Document) navigate(_ context.Context, args []json.RawMessage) (any, error) {
	var destination string
	if len(args) > 0 {
		if err := json.Unmarshal(args[0], &destination); err != nil {
			return nil, fmt.Errorf("destination: %w", err)
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.requiredAreas) == 0 {
		return AreaResult{Success: false, Message: "no required editable area"}, nil
	}
	d.current = d.requiredAreas[0]
	if destination != "" {
		d.current = destination
	}
	return AreaResult{Success: true, Area: d.current}, nil
}

func (d *Document) takeTabNav(_ context.Context, args []json.RawMessage) (any, error) {
	if _, err := boolArg(args, true); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hasTabNav {
		return nil, errors.New("editor already has tab navigation")
	}
	d.hasTabNav = true
	return editorapi.Result{Success: true}, nil
}

func (d *Document) subscribed(_ context.Context, _ []json.RawMessage) (any, error) {
	return editorapi.Result{Success: true}, nil
}

func boolArg(args []json.RawMessage, fallback bool) (bool, error) {
	if len(args) == 0 {
		return fallback, nil
	}
	var v bool
	if err := json.Unmarshal(args[0], &v); err != nil {
		return false, fmt.Errorf("boolean argument: %w", err)
	}
	return v, nil
}
