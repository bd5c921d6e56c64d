// Package window opens the configured transport as an editorapi.Port.
package window

import (
	"context"
	"fmt"

	"github.com/kiaplayer/go-editor-rpc/editorapi"
	"github.com/kiaplayer/go-editor-rpc/internal/config"
	"github.com/kiaplayer/go-editor-rpc/transport/amqpwin"
	"github.com/kiaplayer/go-editor-rpc/transport/wswin"
)

// DialHost opens the host side of the configured window.
func DialHost(ctx context.Context, cfg config.WindowConfig) (editorapi.Port, error) {
	switch cfg.Transport {
	case "ws":
		port, err := wswin.Dial(ctx, cfg.WS.URL, wswin.Options{Origin: cfg.WS.Origin})
		if err != nil {
			return nil, err
		}
		return port, nil
	case "amqp":
		port, err := amqpwin.Dial(cfg.AMQP.URL, amqpwin.Options{
			Exchange: cfg.AMQP.Exchange,
			Queue:    cfg.AMQP.HostQueue,
			Peer:     cfg.AMQP.EditorQueue,
		})
		if err != nil {
			return nil, err
		}
		return port, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// DialEditor opens the editor side of a broker window. WebSocket editors
// accept connections instead, see wswin.Accept.
func DialEditor(cfg config.WindowConfig) (editorapi.Port, error) {
	if cfg.Transport != "amqp" {
		return nil, fmt.Errorf("transport %q has no dialing editor side", cfg.Transport)
	}
	port, err := amqpwin.Dial(cfg.AMQP.URL, amqpwin.Options{
		Exchange: cfg.AMQP.Exchange,
		Queue:    cfg.AMQP.EditorQueue,
		Peer:     cfg.AMQP.HostQueue,
	})
	if err != nil {
		return nil, err
	}
	return port, nil
}
