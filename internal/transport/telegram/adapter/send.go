package adapter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "templatebot/internal/transport"
	"templatebot/pkg/tgui"
)

const (
	textLimit    = 4000
	captionLimit = 1024
)

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := splitText(text, textLimit)
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		so := sendOptions(to, opt)
		// Markup goes on the last chunk so menus sit under the final text.
		if i != len(chunks)-1 {
			so.ReplyMarkup = nil
		}
		msg, err := a.bot.Send(chat, chunk, so)
		if err != nil {
			return first, mapError(err)
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) SendPhoto(ctx context.Context, to kit.ChatTarget, path, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	if _, err := os.Stat(path); err != nil {
		return kit.MessageRef{}, fmt.Errorf("photo %s: %w", path, err)
	}

	// Telegram caps captions; overflow text follows as a separate message.
	head, rest := caption, ""
	if r := []rune(caption); len(r) > captionLimit {
		head, rest = string(r[:captionLimit]), string(r[captionLimit:])
	}

	so := sendOptions(to, opt)
	if rest != "" {
		so.ReplyMarkup = nil
	}
	photo := &tele.Photo{File: tele.FromDisk(path), Caption: head}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, photo, so)
	if err != nil {
		return kit.MessageRef{}, mapError(err)
	}
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
	if rest != "" {
		if _, err := a.SendText(ctx, to, rest, opt); err != nil {
			return ref, err
		}
	}
	return ref, nil
}

func (a *Adapter) Download(ctx context.Context, m kit.Media, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.FileID == "" {
		return errors.New("media has no file id")
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return mapError(a.bot.Download(&tele.File{FileID: m.FileID}, dst))
}

func sendOptions(to kit.ChatTarget, opt *kit.SendOptions) *tele.SendOptions {
	return &tele.SendOptions{
		ParseMode:             tele.ParseMode(opt.ParseMode),
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              to.ThreadID,
		ReplyMarkup:           buildMarkup(opt),
	}
}

// buildMarkup picks one keyboard: a link button, a reply menu, or removal.
func buildMarkup(opt *kit.SendOptions) *tele.ReplyMarkup {
	switch {
	case opt.LinkButton != nil && opt.LinkButton.Text != "" && opt.LinkButton.URL != "":
		return tgui.LinkKeyboard(opt.LinkButton.Text, opt.LinkButton.URL)
	case len(opt.Menu) > 0:
		return tgui.Menu(opt.Menu...)
	case opt.RemoveMenu:
		return tgui.RemoveMenu()
	default:
		return nil
	}
}

// mapError turns Telegram flood control into a transport-level error that
// callers can honour without importing telebot.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var fe tele.FloodError
	if errors.As(err, &fe) {
		return &kit.RateLimitedError{After: time.Duration(fe.RetryAfter) * time.Second, Err: err}
	}
	return err
}

// splitText cuts s into chunks of at most limit runes, preferring a
// newline in the last two thirds of each window.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i-start >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
