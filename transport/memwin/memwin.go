// Package memwin connects a host and an editor inside one process.
package memwin

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/kiaplayer/go-editor-rpc/editorapi"
)

var ErrClosed = errors.New("memwin: port closed")

const inboxSize = 64

// Port is one end of an in-memory window pair.
type Port struct {
	origin    string
	peer      *Port
	inbox     chan editorapi.MessageEvent
	done      chan struct{}
	closeOnce sync.Once
}

// Pipe returns two connected ports. Messages posted on one are received on
// the other with Origin set to the sender's origin.
func Pipe(hostOrigin, editorOrigin string) (host, editor *Port) {
	host = newPort(hostOrigin)
	editor = newPort(editorOrigin)
	host.peer = editor
	editor.peer = host
	return host, editor
}

func newPort(origin string) *Port {
	return &Port{
		origin: origin,
		inbox:  make(chan editorapi.MessageEvent, inboxSize),
		done:   make(chan struct{}),
	}
}

func (p *Port) Origin() string { return p.origin }

func (p *Port) PostMessage(ctx context.Context, data string, targetOrigin string) error {
	select {
	case <-p.done:
		return ErrClosed
	case <-p.peer.done:
		return ErrClosed
	default:
	}
	if !editorapi.OriginMatches(targetOrigin, p.peer.origin) {
		return nil
	}
	select {
	case p.peer.inbox <- editorapi.MessageEvent{Data: data, Origin: p.origin}:
		return nil
	case <-p.peer.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Port) Receive(ctx context.Context) (editorapi.MessageEvent, error) {
	select {
	case e := <-p.inbox:
		return e, nil
	case <-p.done:
		return editorapi.MessageEvent{}, io.EOF
	case <-ctx.Done():
		return editorapi.MessageEvent{}, ctx.Err()
	}
}

// Close stops this end. The peer sees ErrClosed on its next post.
func (p *Port) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}
