// Package logx is reobot's structured logging wrapper around zerolog.
//
// Console output stays human readable (short timestamp and caller), the file
// sink writes JSON lines, and an optional Telegram sink forwards warnings to an
// operator chat with min-level filtering and rate limiting.
package logx
