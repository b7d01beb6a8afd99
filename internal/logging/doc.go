// Package logging builds the slog loggers used across logrelay.
//
// It owns the console and JSON handlers and the level/output plumbing.
// Components tag their loggers with a "component" attribute, which the
// console handler prints ahead of the message:
//
//	2025-01-02T15:04:05Z INFO monitor: started name=game path=/logs/game_3.txt
//
// Tests and wiring code that have nowhere to log use Nop.
package logging
