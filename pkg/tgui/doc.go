// Package tgui provides small Telegram UI helpers:
//   - keyboard builders (link buttons, one-shot reply menus)
//   - rune-safe text helpers for Telegram length limits
package tgui
