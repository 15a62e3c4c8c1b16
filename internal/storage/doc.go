// Package storage persists subscribers, their counters, the daily send gate
// record and the audit trail of subscriber actions.
//
// Two drivers exist:
//   - "file": the JSON files shared with the oracle dashboard tooling
//     (subscribers_telegram.json, last_telegram_notification.json) plus a
//     plain-text activity log. Writes are atomic (temp file + rename).
//   - "sqlite": a single SQLite database (modernc.org/sqlite, no cgo).
package storage
