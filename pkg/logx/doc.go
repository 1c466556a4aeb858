// Package logx is templatebot's structured logging layer.
//
// Logger wraps zerolog with a small Field API. Service owns the sinks:
//   - console output (short timestamp + file:line caller)
//   - optional JSON file
//   - optional Telegram log chat, filtered by level and rate limited
package logx
