// Package delivery renders templates and pushes them to the destination
// chat when a schedule fires.
package delivery

import (
	"context"
	"errors"
	"time"

	"templatebot/internal/task/engine"
	kit "templatebot/internal/transport"
)

// Content is a rendered template.
type Content struct {
	Text      string
	ImagePath string
	Button    *kit.Button
}

// Sink pushes rendered content to a chat.
type Sink interface {
	Deliver(ctx context.Context, to kit.ChatTarget, c Content) error
}

// AdapterSink delivers through a transport adapter: a photo with caption
// when an image is set, plain text otherwise.
type AdapterSink struct {
	Adapter kit.Adapter
}

func (s AdapterSink) Deliver(ctx context.Context, to kit.ChatTarget, c Content) error {
	opt := &kit.SendOptions{LinkButton: c.Button}
	var err error
	if c.ImagePath != "" {
		_, err = s.Adapter.SendPhoto(ctx, to, c.ImagePath, c.Text, opt)
	} else {
		_, err = s.Adapter.SendText(ctx, to, c.Text, opt)
	}
	return retryHint(err)
}

// retryHint forwards platform flood waits to the engine's backoff.
func retryHint(err error) error {
	var rl *kit.RateLimitedError
	if errors.As(err, &rl) {
		return engine.RetryAfter(err, rl.After+250*time.Millisecond)
	}
	return err
}
