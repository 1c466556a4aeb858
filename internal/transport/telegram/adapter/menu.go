package adapter

import (
	"context"
	"hash/fnv"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "templatebot/internal/transport"
	"templatebot/pkg/logx"
	"templatebot/pkg/tgui"
)

const (
	maxMenuCommands = 100
	maxMenuDescLen  = 256
)

// UpdateMenuCommands publishes the command list (setMyCommands). Identical
// lists are not re-sent.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	list, sum := menuPayload(cmds)

	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if sum == a.menuHash {
		return nil
	}
	if err := a.bot.SetCommands(list); err != nil {
		return mapError(err)
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}

func menuPayload(cmds []kit.BotCommand) ([]tele.Command, uint64) {
	h := fnv.New64a()
	list := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.TrimPrefix(strings.TrimSpace(c.Command), "/")
		if name == "" {
			continue
		}
		desc := tgui.TruncRunes(strings.TrimSpace(c.Description), maxMenuDescLen)
		if desc == "" {
			desc = name
		}
		_, _ = h.Write([]byte(name))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(desc))
		_, _ = h.Write([]byte{0})
		list = append(list, tele.Command{Text: name, Description: desc})
		if len(list) >= maxMenuCommands {
			break
		}
	}
	return list, h.Sum64()
}

// SendLog implements logx.Sender.
func (a *Adapter) SendLog(ctx context.Context, chatID int64, threadID int, text string) error {
	_, err := a.SendText(ctx, kit.ChatTarget{ChatID: chatID, ThreadID: threadID}, text, &kit.SendOptions{DisablePreview: true})
	return err
}
