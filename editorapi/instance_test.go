package editorapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type post struct {
	data         string
	targetOrigin string
}

type recordingWindow struct {
	mu     sync.Mutex
	posts  []post
	err    error
	onPost func(data string)
}

func (w *recordingWindow) PostMessage(_ context.Context, data string, targetOrigin string) error {
	w.mu.Lock()
	if w.err != nil {
		w.mu.Unlock()
		return w.err
	}
	w.posts = append(w.posts, post{data: data, targetOrigin: targetOrigin})
	onPost := w.onPost
	w.mu.Unlock()
	if onPost != nil {
		onPost(data)
	}
	return nil
}

func (w *recordingWindow) last(t *testing.T) map[string]any {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	require.NotEmpty(t, w.posts)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(w.posts[len(w.posts)-1].data), &m))
	return m
}

type sliceSource struct {
	events []MessageEvent
}

func (s *sliceSource) Receive(context.Context) (MessageEvent, error) {
	if len(s.events) == 0 {
		return MessageEvent{}, io.EOF
	}
	e := s.events[0]
	s.events = s.events[1:]
	return e, nil
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func response(id, action, returnValue string) MessageEvent {
	return MessageEvent{
		Data:   fmt.Sprintf(`{"uniqueIdentifier":%q,"action":%q,"returnValue":%s}`, id, action, returnValue),
		Origin: "https://editor.example",
	}
}

func TestSimpleCallPostsEnvelope(t *testing.T) {
	w := &recordingWindow{}
	inst := GetInstance(w, "https://editor.example", nil, WithIDGenerator(sequentialIDs()))

	id, err := inst.SimpleCall(context.Background(), "EditorAPI.document.save", []any{true}, func(json.RawMessage) {})
	require.NoError(t, err)
	assert.Equal(t, "id-1", id)
	assert.Equal(t, 1, inst.Pending())

	require.Len(t, w.posts, 1)
	assert.Equal(t, "https://editor.example", w.posts[0].targetOrigin)
	assert.JSONEq(t,
		`{"uniqueIdentifier":"id-1","methodName":"EditorAPI.document.save","args":[true],"action":"method call"}`,
		w.posts[0].data)
}

func TestSimpleCallRequiresCallback(t *testing.T) {
	w := &recordingWindow{}
	inst := GetInstance(w, "*", nil)

	_, err := inst.SimpleCall(context.Background(), "EditorAPI.document.save", nil, nil)
	require.ErrorIs(t, err, ErrNoCallback)
	assert.Contains(t, err.Error(), "EditorAPI.document.save expects a callback")
	assert.Empty(t, w.posts)
	assert.Zero(t, inst.Pending())
}

func TestSimpleCallPostFailureDropsPending(t *testing.T) {
	postErr := errors.New("window gone")
	inst := GetInstance(&recordingWindow{err: postErr}, "*", nil)

	_, err := inst.SimpleCall(context.Background(), "m", nil, func(json.RawMessage) {})
	require.ErrorIs(t, err, postErr)
	assert.Zero(t, inst.Pending())
}

func TestHandleMessageResponseRemovesCallback(t *testing.T) {
	inst := GetInstance(&recordingWindow{}, "*", nil, WithIDGenerator(sequentialIDs()))

	var got []string
	_, err := inst.SimpleCall(context.Background(), "m", nil, func(rv json.RawMessage) {
		got = append(got, string(rv))
	})
	require.NoError(t, err)

	require.NoError(t, inst.HandleMessage(response("id-1", MethodResponseAction, `{"success":true}`)))
	assert.Equal(t, []string{`{"success":true}`}, got)
	assert.Zero(t, inst.Pending())

	err = inst.HandleMessage(response("id-1", MethodResponseAction, `{"success":true}`))
	require.ErrorIs(t, err, ErrUnknownIdentifier)
	assert.Len(t, got, 1)
}

func TestHandleMessageSubscriptionPersists(t *testing.T) {
	inst := GetInstance(&recordingWindow{}, "*", nil, WithIDGenerator(sequentialIDs()))

	calls := 0
	_, err := inst.SimpleCall(context.Background(), "m", nil, func(json.RawMessage) { calls++ })
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, inst.HandleMessage(response("id-1", MethodSubscribedAction, `{"tick":1}`)))
	}
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, inst.Pending())

	require.NoError(t, inst.HandleMessage(response("id-1", MethodResponseAction, `null`)))
	assert.Equal(t, 4, calls)
	assert.Zero(t, inst.Pending())
}

func TestHandleMessageRejects(t *testing.T) {
	inst := GetInstance(&recordingWindow{}, "*", nil, WithIDGenerator(sequentialIDs()))
	called := false
	_, err := inst.SimpleCall(context.Background(), "m", nil, func(json.RawMessage) { called = true })
	require.NoError(t, err)

	t.Run("unparsable", func(t *testing.T) {
		err := inst.HandleMessage(MessageEvent{Data: "not json", Origin: "https://other.example"})
		require.ErrorIs(t, err, ErrUnparsable)
		assert.Contains(t, err.Error(), "https://other.example")
		assert.Contains(t, err.Error(), "'not json'")
	})

	t.Run("unknown identifier", func(t *testing.T) {
		err := inst.HandleMessage(response("nope", MethodResponseAction, `{}`))
		require.ErrorIs(t, err, ErrUnknownIdentifier)
	})

	t.Run("unexpected action", func(t *testing.T) {
		err := inst.HandleMessage(response("id-1", MethodCallAction, `{}`))
		require.ErrorIs(t, err, ErrUnexpectedAction)
		assert.Contains(t, err.Error(), "'method call'")
	})

	assert.False(t, called)
	assert.Equal(t, 1, inst.Pending())
}

func TestHandleMessageNonObjectJSON(t *testing.T) {
	inst := GetInstance(&recordingWindow{}, "*", nil)
	for _, data := range []string{`[1]`, `"x"`, `42`, `{"uniqueIdentifier":7}`} {
		err := inst.HandleMessage(MessageEvent{Data: data, Origin: "https://editor.example"})
		assert.ErrorIs(t, err, ErrUnknownIdentifier, data)
	}
}

func TestCallEnvelopeArgs(t *testing.T) {
	withoutArgs, err := json.Marshal(newCall("id-1", MethodHasChanged, nil))
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"uniqueIdentifier":"id-1","methodName":"EditorAPI.document.hasChanged","action":"method call"}`,
		string(withoutArgs))

	emptyArgs, err := json.Marshal(newCall("id-2", MethodGetFirstRequiredEditArea, []any{}))
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"uniqueIdentifier":"id-2","methodName":"EditorAPI.document.getFirstRequiredEditArea","args":[],"action":"method call"}`,
		string(emptyArgs))
}

func TestHandleMessageOriginCheck(t *testing.T) {
	inst := GetInstance(&recordingWindow{}, "https://editor.example", nil,
		WithIDGenerator(sequentialIDs()), WithOriginCheck())
	_, err := inst.SimpleCall(context.Background(), "m", nil, func(json.RawMessage) {})
	require.NoError(t, err)

	e := response("id-1", MethodResponseAction, `{}`)
	e.Origin = "https://evil.example"
	require.ErrorIs(t, inst.HandleMessage(e), ErrUntrustedOrigin)
	assert.Equal(t, 1, inst.Pending())

	require.NoError(t, inst.HandleMessage(response("id-1", MethodResponseAction, `{}`)))
	assert.Zero(t, inst.Pending())
}

func TestListenSkipsBadMessages(t *testing.T) {
	inst := GetInstance(&recordingWindow{}, "*", nil, WithIDGenerator(sequentialIDs()))
	var got string
	_, err := inst.SimpleCall(context.Background(), "m", nil, func(rv json.RawMessage) { got = string(rv) })
	require.NoError(t, err)

	src := &sliceSource{events: []MessageEvent{
		{Data: "garbage", Origin: "x"},
		response("stranger", MethodResponseAction, `1`),
		response("id-1", MethodResponseAction, `"done"`),
	}}
	require.NoError(t, inst.Listen(context.Background(), src))
	assert.Equal(t, `"done"`, got)
}

func TestExecute(t *testing.T) {
	w := &recordingWindow{}
	inst := GetInstance(w, "*", nil)
	w.onPost = func(data string) {
		var call Call
		if err := json.Unmarshal([]byte(data), &call); err != nil {
			return
		}
		go func() {
			_ = inst.HandleMessage(response(call.UniqueIdentifier, MethodResponseAction, `{"success":true}`))
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rv, err := inst.Execute(ctx, MethodSave, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true}`, string(rv))
	assert.Zero(t, inst.Pending())
}

func TestExecuteTimeoutCancelsCall(t *testing.T) {
	inst := GetInstance(&recordingWindow{}, "*", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := inst.Execute(ctx, MethodSave, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, inst.Pending())
}

func TestGeneratePseudoGUID(t *testing.T) {
	a, b := GeneratePseudoGUID(), GeneratePseudoGUID()
	assert.Regexp(t, `^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`, a)
	assert.NotEqual(t, a, b)
}

func TestOriginMatches(t *testing.T) {
	assert.True(t, OriginMatches("*", "https://a"))
	assert.True(t, OriginMatches("https://a", "https://a"))
	assert.False(t, OriginMatches("https://a", "https://b"))
}
