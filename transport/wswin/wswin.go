// Package wswin carries editor messages over a WebSocket connection.
package wswin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"nhooyr.io/websocket"

	"github.com/kiaplayer/go-editor-rpc/editorapi"
)

const defaultReadLimit = 1 << 20

// Options configure either side of the connection.
type Options struct {
	// Origin is sent as the Origin header when dialing.
	Origin string
	// OriginPatterns are accepted Origin hosts when accepting.
	OriginPatterns []string
	ReadLimit      int64
}

// Port wraps one WebSocket connection.
type Port struct {
	ws         *websocket.Conn
	peerOrigin string
}

// Dial connects to an editor endpoint. The peer origin is taken from rawURL
// with the ws scheme mapped to http.
func Dial(ctx context.Context, rawURL string, opts Options) (*Port, error) {
	peerOrigin, err := originOf(rawURL)
	if err != nil {
		return nil, err
	}

	dialOpts := &websocket.DialOptions{}
	if opts.Origin != "" {
		dialOpts.HTTPHeader = http.Header{"Origin": []string{opts.Origin}}
	}
	ws, _, err := websocket.Dial(ctx, rawURL, dialOpts)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return newPort(ws, peerOrigin, opts.ReadLimit), nil
}

// Accept upgrades an HTTP request coming from a host page.
func Accept(w http.ResponseWriter, r *http.Request, opts Options) (*Port, error) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: opts.OriginPatterns,
	})
	if err != nil {
		return nil, fmt.Errorf("accept: %w", err)
	}
	peerOrigin := r.Header.Get("Origin")
	if peerOrigin == "" {
		peerOrigin = "http://" + r.RemoteAddr
	}
	return newPort(ws, peerOrigin, opts.ReadLimit), nil
}

func newPort(ws *websocket.Conn, peerOrigin string, readLimit int64) *Port {
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}
	ws.SetReadLimit(readLimit)
	return &Port{ws: ws, peerOrigin: peerOrigin}
}

func (p *Port) PeerOrigin() string { return p.peerOrigin }

func (p *Port) PostMessage(ctx context.Context, data string, targetOrigin string) error {
	if !editorapi.OriginMatches(targetOrigin, p.peerOrigin) {
		return nil
	}
	return p.ws.Write(ctx, websocket.MessageText, []byte(data))
}

func (p *Port) Receive(ctx context.Context) (editorapi.MessageEvent, error) {
	_, data, err := p.ws.Read(ctx)
	if err != nil {
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return editorapi.MessageEvent{}, io.EOF
		}
		return editorapi.MessageEvent{}, err
	}
	return editorapi.MessageEvent{Data: string(data), Origin: p.peerOrigin}, nil
}

func (p *Port) Close() error {
	return p.ws.Close(websocket.StatusNormalClosure, "")
}

func originOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	scheme := u.Scheme
	switch scheme {
	case "ws":
		scheme = "http"
	case "wss":
		scheme = "https"
	}
	return scheme + "://" + u.Host, nil
}
