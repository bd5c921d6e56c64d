// Package editor serves the editor side of the document API. It stands in
// for the embedded editor so hosts can be run and tested end to end.
package editor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kiaplayer/go-editor-rpc/editorapi"
)

type RequestHandler interface {
	Handle(ctx context.Context, args []json.RawMessage) (returnValue any, err error)
}

type HandlerFunc func(ctx context.Context, args []json.RawMessage) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, args []json.RawMessage) (any, error) {
	return f(ctx, args)
}

type Server struct {
	port                  editorapi.Port
	targetOrigin          string
	handlers              map[string]requestHandlerParams
	handlersMu            sync.RWMutex
	subscriptions         map[string][]subscription
	subscriptionsMu       sync.Mutex
	defaultHandlerTimeout time.Duration
	limiter               *rate.Limiter
	logger                *slog.Logger
}

type requestHandlerParams struct {
	handler   RequestHandler
	timeout   time.Duration
	subscribe bool
}

type subscription struct {
	callID string
	args   []json.RawMessage
}

type Option func(*Server)

// WithRateLimit answers calls beyond r per second (with burst) with a failure.
func WithRateLimit(r float64, burst int) Option {
	return func(s *Server) { s.limiter = rate.NewLimiter(rate.Limit(r), burst) }
}

func NewServer(port editorapi.Port, targetOrigin string, defaultHandlerTimeout time.Duration, logger *slog.Logger, opts ...Option) (*Server, error) {
	if defaultHandlerTimeout <= 0 {
		return nil, errors.New("wrong default handler timeout")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Server{
		port:                  port,
		targetOrigin:          targetOrigin,
		handlers:              make(map[string]requestHandlerParams),
		subscriptions:         make(map[string][]subscription),
		defaultHandlerTimeout: defaultHandlerTimeout,
		logger:                logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Server) AttachHandler(method string, handler RequestHandler, timeout time.Duration) {
	s.attach(method, handler, timeout, false)
}

// AttachSubscription registers a handler whose caller stays subscribed. The
// handler's return value is sent as the first "method subscribed" response;
// later values are pushed with Notify.
func (s *Server) AttachSubscription(method string, handler RequestHandler, timeout time.Duration) {
	s.attach(method, handler, timeout, true)
}

func (s *Server) attach(method string, handler RequestHandler, timeout time.Duration, subscribe bool) {
	if timeout == 0 {
		timeout = s.defaultHandlerTimeout
	}
	s.handlersMu.Lock()
	s.handlers[method] = requestHandlerParams{
		handler:   handler,
		timeout:   timeout,
		subscribe: subscribe,
	}
	s.handlersMu.Unlock()
}

func (s *Server) DetachHandler(method string) {
	s.handlersMu.Lock()
	delete(s.handlers, method)
	s.handlersMu.Unlock()
}

// Notify sends value to every subscriber of method whose call arguments
// satisfy match. A nil match selects all subscribers.
func (s *Server) Notify(ctx context.Context, method string, match func(args []json.RawMessage) bool, value any) error {
	s.subscriptionsMu.Lock()
	var targets []string
	for _, sub := range s.subscriptions[method] {
		if match == nil || match(sub.args) {
			targets = append(targets, sub.callID)
		}
	}
	s.subscriptionsMu.Unlock()

	for _, callID := range targets {
		if err := s.respond(ctx, callID, editorapi.MethodSubscribedAction, value); err != nil {
			return err
		}
	}
	return nil
}

// Subscribers returns how many calls are subscribed to method.
func (s *Server) Subscribers(method string) int {
	s.subscriptionsMu.Lock()
	defer s.subscriptionsMu.Unlock()
	return len(s.subscriptions[method])
}

func (s *Server) ProcessRequests(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		e, err := s.port.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if !editorapi.OriginMatches(s.targetOrigin, e.Origin) {
			s.logger.Warn("call from unexpected origin ignored", "origin", e.Origin)
			continue
		}
		// Process every message asynchronously
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.processMessage(ctx, e)
		}()
	}
}

func (s *Server) processMessage(ctx context.Context, e editorapi.MessageEvent) {
	call := &struct {
		UniqueIdentifier string            `json:"uniqueIdentifier"`
		MethodName       string            `json:"methodName"`
		Args             []json.RawMessage `json:"args"`
		Action           string            `json:"action"`
	}{}
	if err := json.Unmarshal([]byte(e.Data), call); err != nil {
		s.logger.Warn("unparsable call", "origin", e.Origin, "error", err)
		return
	}
	if call.Action != editorapi.MethodCallAction || call.UniqueIdentifier == "" {
		s.logger.Warn("not a method call", "origin", e.Origin, "action", call.Action)
		return
	}

	action := editorapi.MethodResponseAction
	var returnValue any

	s.handlersMu.RLock()
	handlerParams, found := s.handlers[call.MethodName]
	s.handlersMu.RUnlock()

	switch {
	case s.limiter != nil && !s.limiter.Allow():
		returnValue = failure("rate limit exceeded")
	case !found:
		returnValue = failure("Handler for method " + call.MethodName + " not found")
	default:
		handlerCtx, cancel := context.WithTimeout(ctx, handlerParams.timeout)
		value, err := handlerParams.handler.Handle(handlerCtx, call.Args)
		cancel()
		if err != nil {
			returnValue = failure(err.Error())
			break
		}
		returnValue = value
		if handlerParams.subscribe {
			action = editorapi.MethodSubscribedAction
			s.subscriptionsMu.Lock()
			s.subscriptions[call.MethodName] = append(s.subscriptions[call.MethodName], subscription{
				callID: call.UniqueIdentifier,
				args:   call.Args,
			})
			s.subscriptionsMu.Unlock()
		}
	}

	s.logger.Debug("editor call handled", "method", call.MethodName, "id", call.UniqueIdentifier, "action", action)
	if err := s.respond(ctx, call.UniqueIdentifier, action, returnValue); err != nil {
		s.logger.Error("publish response error", "method", call.MethodName, "error", err)
	}
}

func (s *Server) respond(ctx context.Context, callID, action string, returnValue any) error {
	raw, err := json.Marshal(returnValue)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	data, err := json.Marshal(editorapi.Response{
		UniqueIdentifier: callID,
		Action:           action,
		ReturnValue:      raw,
	})
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	return s.port.PostMessage(ctx, string(data), s.targetOrigin)
}

func failure(message string) editorapi.Result {
	return editorapi.Result{Success: false, Message: message}
}
