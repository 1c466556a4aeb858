package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// Inline is a small builder for inline keyboards (ReplyMarkup).
// It stores rows as tele.Row ([]tele.Btn) and applies them via ReplyMarkup.Inline().
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends a new row (buttons) to the inline keyboard.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

// Markup returns underlying reply markup.
func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// URLBtn creates a URL button.
func URLBtn(text, url string) tele.Btn {
	return tele.Btn{Text: text, URL: url}
}

// LinkKeyboard is a single-button inline keyboard that opens url.
func LinkKeyboard(text, url string) *tele.ReplyMarkup {
	return NewInline().Row(URLBtn(text, url)).Markup()
}

// Menu builds a one-shot reply keyboard with one label per row. The
// keyboard is resized to fit and hides after a tap.
func Menu(labels ...string) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{ResizeKeyboard: true, OneTimeKeyboard: true}
	rows := make([]tele.Row, 0, len(labels))
	for _, l := range labels {
		rows = append(rows, rm.Row(rm.Text(l)))
	}
	rm.Reply(rows...)
	return rm
}

// RemoveMenu hides a previously shown reply keyboard.
func RemoveMenu() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{RemoveKeyboard: true}
}
