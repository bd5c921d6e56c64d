package editorapi

import (
	"context"
	"encoding/json"
)

const (
	MethodHasChanged                          = "EditorAPI.document.hasChanged"
	MethodSave                                = "EditorAPI.document.save"
	MethodImplicitSave                        = "EditorAPI.document.implicitSave"
	MethodGetFirstRequiredEditArea            = "EditorAPI.document.getFirstRequiredEditArea"
	MethodNavigateToFirstRequiredEditableArea = "EditorAPI.document.navigateToFirstRequiredEditableArea"
	MethodRegisterTabNavCallback              = "EditorAPI.document.registerTabNavCallback"
	MethodPassTabNavControl                   = "EditorAPI.document.passTabNavControl"
	MethodAddReplayEventListener              = "EditorAPI.document.addReplayEventListener"
)

// DocumentAPI exposes the editor's document methods. Each method returns the
// correlation id of its call.
type DocumentAPI struct {
	parent *Instance
}

// HasChanged asks whether the document has unsaved changes. The optional
// flag also counts uncommitted changes in the active variable area.
func (d *DocumentAPI) HasChanged(ctx context.Context, fn ResultCallback, includeUncommitted ...bool) (string, error) {
	return d.resultCall(ctx, MethodHasChanged, optionalFlag(includeUncommitted), fn)
}

func (d *DocumentAPI) Save(ctx context.Context, fn ResultCallback, includeUncommitted ...bool) (string, error) {
	return d.resultCall(ctx, MethodSave, optionalFlag(includeUncommitted), fn)
}

func (d *DocumentAPI) ImplicitSave(ctx context.Context, fn ResultCallback, includeUncommitted ...bool) (string, error) {
	return d.resultCall(ctx, MethodImplicitSave, optionalFlag(includeUncommitted), fn)
}

func (d *DocumentAPI) GetFirstRequiredEditArea(ctx context.Context, fn Callback) (string, error) {
	return d.parent.SimpleCall(ctx, MethodGetFirstRequiredEditArea, []any{}, fn)
}

func (d *DocumentAPI) NavigateToFirstRequiredEditableArea(ctx context.Context, fn Callback, destination string) (string, error) {
	return d.parent.SimpleCall(ctx, MethodNavigateToFirstRequiredEditableArea, []any{destination}, fn)
}

// RegisterTabNavCallback subscribes fn to tab navigation hand-backs. The
// callback stays registered for every "method subscribed" response.
func (d *DocumentAPI) RegisterTabNavCallback(ctx context.Context, fn Callback) (string, error) {
	return d.parent.SimpleCall(ctx, MethodRegisterTabNavCallback, []any{}, fn)
}

// PassTabNavControl hands keyboard navigation to the editor, from the top
// unless fromTop is given as false.
func (d *DocumentAPI) PassTabNavControl(ctx context.Context, fn Callback, fromTop ...bool) (string, error) {
	top := true
	if len(fromTop) > 0 {
		top = fromTop[0]
	}
	return d.parent.SimpleCall(ctx, MethodPassTabNavControl, []any{top}, fn)
}

// AddReplayEventListener subscribes fn to replays of the named editor event.
func (d *DocumentAPI) AddReplayEventListener(ctx context.Context, fn Callback, eventName string) (string, error) {
	return d.parent.SimpleCall(ctx, MethodAddReplayEventListener, []any{eventName}, fn)
}

func (d *DocumentAPI) resultCall(ctx context.Context, methodName string, args []any, fn ResultCallback) (string, error) {
	var cb Callback
	if fn != nil {
		cb = func(returnValue json.RawMessage) {
			var result Result
			if err := json.Unmarshal(returnValue, &result); err != nil {
				fn(Result{}, err)
				return
			}
			fn(result, nil)
		}
	}
	return d.parent.SimpleCall(ctx, methodName, args, cb)
}

func optionalFlag(flag []bool) []any {
	if len(flag) == 0 {
		return nil
	}
	return []any{flag[0]}
}
