// Package workflow drives the host page's save and publish buttons on top of
// the editor document API.
package workflow

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/kiaplayer/go-editor-rpc/editorapi"
)

type Outcome int

const (
	// OutcomeNone means the editor answered hasChanged without success and
	// without saying the document is clean, so nothing was done.
	OutcomeNone Outcome = iota
	OutcomeUnchanged
	OutcomeSaved
	OutcomeSaveFailed
	OutcomePublished
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeSaved:
		return "saved"
	case OutcomeSaveFailed:
		return "save failed"
	case OutcomePublished:
		return "published"
	default:
		return "none"
	}
}

// Publisher submits the publish form once the document is saved.
type Publisher interface {
	SubmitPublish(ctx context.Context) error
}

type Integration struct {
	instance  *editorapi.Instance
	publisher Publisher
	logger    *slog.Logger
}

func NewIntegration(instance *editorapi.Instance, publisher Publisher, logger *slog.Logger) *Integration {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Integration{
		instance:  instance,
		publisher: publisher,
		logger:    logger,
	}
}

type completion struct {
	outcome Outcome
	err     error
}

// calls remembers the ids of one workflow run so they can be cancelled
// when the caller gives up. Ids tracked after that are cancelled at once.
type calls struct {
	mu        sync.Mutex
	instance  *editorapi.Instance
	ids       []string
	abandoned bool
}

func (c *calls) track(id string, err error) error {
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.abandoned {
		c.instance.Cancel(id)
		return nil
	}
	c.ids = append(c.ids, id)
	return nil
}

func (c *calls) abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abandoned = true
	for _, id := range c.ids {
		c.instance.Cancel(id)
	}
	c.ids = nil
}

// Save saves the document if the editor reports it dirty.
func (in *Integration) Save(ctx context.Context) (Outcome, error) {
	done := make(chan completion, 1)
	finish := func(o Outcome, err error) { done <- completion{o, err} }
	pending := &calls{instance: in.instance}
	document := in.instance.Document

	err := pending.track(document.HasChanged(ctx, func(changed editorapi.Result, err error) {
		if err != nil {
			finish(OutcomeNone, err)
			return
		}
		in.logger.Info("hasChanged returned", "success", changed.Success, "dirty", changed.Dirty())

		if !changed.Success || !changed.Dirty() {
			finish(OutcomeUnchanged, nil)
			return
		}
		err = pending.track(document.Save(ctx, func(saved editorapi.Result, err error) {
			switch {
			case err != nil:
				finish(OutcomeNone, err)
			case saved.Success:
				in.logger.Info("Document saved successfully.")
				finish(OutcomeSaved, nil)
			default:
				in.logger.Warn("Document save failed: " + saved.Message)
				finish(OutcomeSaveFailed, nil)
			}
		}))
		if err != nil {
			finish(OutcomeNone, err)
		}
	}))
	if err != nil {
		return OutcomeNone, err
	}
	return wait(ctx, done, pending)
}

// Publish saves a dirty document and then submits the publish form. A clean
// document is published directly; a failed save stops the workflow.
func (in *Integration) Publish(ctx context.Context) (Outcome, error) {
	done := make(chan completion, 1)
	finish := func(o Outcome, err error) { done <- completion{o, err} }
	pending := &calls{instance: in.instance}
	document := in.instance.Document

	err := pending.track(document.HasChanged(ctx, func(changed editorapi.Result, err error) {
		if err != nil {
			finish(OutcomeNone, err)
			return
		}
		in.logger.Info("hasChanged returned", "success", changed.Success, "dirty", changed.Dirty())

		switch {
		case changed.Success && changed.Dirty():
			err = pending.track(document.Save(ctx, func(saved editorapi.Result, err error) {
				if err != nil {
					finish(OutcomeNone, err)
					return
				}
				if !saved.Success {
					in.logger.Warn("Document save failed: " + saved.Message)
					finish(OutcomeSaveFailed, nil)
					return
				}
				finish(in.submitPublish(ctx))
			}))
			if err != nil {
				finish(OutcomeNone, err)
			}
		case changed.Clean():
			finish(in.submitPublish(ctx))
		default:
			finish(OutcomeNone, nil)
		}
	}))
	if err != nil {
		return OutcomeNone, err
	}
	return wait(ctx, done, pending)
}

func (in *Integration) submitPublish(ctx context.Context) (Outcome, error) {
	in.logger.Info("Fulfilling document...")
	if err := in.publisher.SubmitPublish(ctx); err != nil {
		return OutcomeNone, err
	}
	return OutcomePublished, nil
}

func wait(ctx context.Context, done <-chan completion, pending *calls) (Outcome, error) {
	select {
	case c := <-done:
		return c.outcome, c.err
	case <-ctx.Done():
		pending.abandon()
		return OutcomeNone, ctx.Err()
	}
}
