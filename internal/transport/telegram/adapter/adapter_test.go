package adapter

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	kit "templatebot/internal/transport"
)

func TestSplitTextShort(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"hello"}, splitText("hello", 10))
}

func TestSplitTextPrefersNewline(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	got := splitText(s, 10)
	assert.Equal(t, []string{strings.Repeat("a", 8), strings.Repeat("b", 8)}, got)
}

func TestSplitTextHardCut(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("x", 25)
	got := splitText(s, 10)
	require.Len(t, got, 3)
	assert.Equal(t, strings.Join(got, ""), s)
}

func TestSplitTextCountsRunes(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("é", 12)
	got := splitText(s, 6)
	assert.Len(t, got, 2)
}

func TestBuildMarkup(t *testing.T) {
	t.Parallel()

	assert.Nil(t, buildMarkup(&kit.SendOptions{}))

	rm := buildMarkup(&kit.SendOptions{RemoveMenu: true})
	require.NotNil(t, rm)
	assert.True(t, rm.RemoveKeyboard)

	rm = buildMarkup(&kit.SendOptions{Menu: []string{"Daily at 12:00", "Every 12 hours"}})
	require.NotNil(t, rm)
	require.Len(t, rm.ReplyKeyboard, 2)
	assert.Equal(t, "Daily at 12:00", rm.ReplyKeyboard[0][0].Text)
	assert.True(t, rm.ResizeKeyboard)
	assert.True(t, rm.OneTimeKeyboard)

	rm = buildMarkup(&kit.SendOptions{LinkButton: &kit.Button{Text: "Open", URL: "https://example.com"}})
	require.NotNil(t, rm)
	require.Len(t, rm.InlineKeyboard, 1)
	assert.Equal(t, "https://example.com", rm.InlineKeyboard[0][0].URL)
}

func TestMapErrorFlood(t *testing.T) {
	t.Parallel()
	err := mapError(tele.FloodError{RetryAfter: 7})
	var rl *kit.RateLimitedError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 7*time.Second, rl.After)

	plain := errors.New("boom")
	assert.Same(t, plain, mapError(plain))
	assert.NoError(t, mapError(nil))
}

func TestToUpdate(t *testing.T) {
	t.Parallel()

	_, ok := toUpdate(&tele.Message{Chat: &tele.Chat{ID: 1}})
	assert.False(t, ok, "no sender")

	up, ok := toUpdate(&tele.Message{
		ID:     5,
		Chat:   &tele.Chat{ID: 42, Type: tele.ChatPrivate},
		Sender: &tele.User{ID: 42, Username: "op"},
		Text:   "/start",
	})
	require.True(t, ok)
	assert.Equal(t, "/start", up.Message.Text)
	assert.True(t, up.Message.IsPrivate)
	assert.Nil(t, up.Message.Photo)

	up, ok = toUpdate(&tele.Message{
		Chat:    &tele.Chat{ID: 42, Type: tele.ChatPrivate},
		Sender:  &tele.User{ID: 42},
		Caption: "hi",
		Photo:   &tele.Photo{File: tele.File{FileID: "fid", UniqueID: "uid", FileSize: 10}},
	})
	require.True(t, ok)
	assert.Equal(t, "hi", up.Message.Text)
	require.NotNil(t, up.Message.Photo)
	assert.Equal(t, "uid", up.Message.Photo.UniqueID)
}

func TestMenuPayloadNormalises(t *testing.T) {
	t.Parallel()
	list, sum := menuPayload([]kit.BotCommand{{Command: "/start"}, {Command: " "}, {Command: "help", Description: "Show help"}})
	require.Len(t, list, 2)
	assert.Equal(t, "start", list[0].Text)
	assert.Equal(t, "start", list[0].Description)
	_, sum2 := menuPayload([]kit.BotCommand{{Command: "start"}, {Command: "help", Description: "Show help"}})
	assert.Equal(t, sum, sum2)
}
