// Package transport holds the chat-platform neutral types shared by the
// router, conversation engine, delivery and the Telegram adapter.
package transport

import (
	"context"
	"fmt"
	"time"
)

type Update struct {
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int
	FromID       int64
	FromUsername string
	Text         string // text, or the caption of a photo
	IsPrivate    bool
	Photo        *Media
}

// Media references a file held by the platform.
type Media struct {
	FileID   string
	UniqueID string
	Size     int64
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type Button struct {
	Text string
	URL  string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// Menu renders a single-choice reply keyboard, one option per row.
	Menu []string
	// RemoveMenu hides a previously shown reply keyboard.
	RemoveMenu bool
	// LinkButton attaches an inline URL button.
	LinkButton *Button
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	// SendPhoto uploads a local image file with an optional caption.
	SendPhoto(ctx context.Context, to ChatTarget, path, caption string, opt *SendOptions) (MessageRef, error)
	// Download stores a platform file at dst.
	Download(ctx context.Context, m Media, dst string) error
}

type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish the
// command list to the platform's UI.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

// RateLimitedError reports that the platform asked us to wait.
type RateLimitedError struct {
	After time.Duration
	Err   error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited for %s: %v", e.After, e.Err)
}

func (e *RateLimitedError) Unwrap() error { return e.Err }
