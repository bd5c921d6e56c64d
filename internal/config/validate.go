package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate returns a *ValidationError listing every problem found in cfg.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateWindow(cfg, ve)
	validatePublish(cfg, ve)
	validateEditor(cfg, ve)
	validateLogger(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateWindow(cfg *Config, ve *ValidationError) {
	w := cfg.Window
	if w.TargetOrigin == "" {
		ve.Add("window.target_origin is required (use \"*\" for any origin)")
	}
	if w.CallTimeout <= 0 {
		ve.Add("window.call_timeout must be positive")
	}
	switch w.Transport {
	case "ws":
		u, err := url.Parse(w.WS.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			ve.Add("window.ws.url must be a ws:// or wss:// URL, got %q", w.WS.URL)
		}
	case "amqp":
		if w.AMQP.URL == "" {
			ve.Add("window.amqp.url is required")
		}
		if w.AMQP.Exchange == "" {
			ve.Add("window.amqp.exchange is required")
		}
		if w.AMQP.HostQueue == "" || w.AMQP.EditorQueue == "" {
			ve.Add("window.amqp.host_queue and window.amqp.editor_queue are required")
		} else if w.AMQP.HostQueue == w.AMQP.EditorQueue {
			ve.Add("window.amqp.host_queue and window.amqp.editor_queue must differ")
		}
	default:
		ve.Add("window.transport must be \"ws\" or \"amqp\", got %q", w.Transport)
	}
}

func validatePublish(cfg *Config, ve *ValidationError) {
	checkURL(ve, "publish.url", cfg.Publish.URL)
	checkURL(ve, "publish.generate_url", cfg.Publish.GenerateURL)
}

func checkURL(ve *ValidationError, key, raw string) {
	if raw == "" {
		return
	}
	if u, err := url.Parse(raw); err != nil || u.Host == "" {
		ve.Add("%s is not a valid URL: %q", key, raw)
	}
}

func validateEditor(cfg *Config, ve *ValidationError) {
	if cfg.Editor.TargetOrigin == "" {
		ve.Add("editor.target_origin is required (use \"*\" for any origin)")
	}
	if cfg.Editor.HandlerTimeout <= 0 {
		ve.Add("editor.handler_timeout must be positive")
	}
	if cfg.Editor.RateLimit < 0 {
		ve.Add("editor.rate_limit must not be negative")
	}
	if cfg.Editor.RateLimit > 0 && cfg.Editor.RateBurst <= 0 {
		ve.Add("editor.rate_burst must be positive when rate_limit is set")
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format must be \"text\" or \"json\", got %q", cfg.Logger.Format)
	}
}
