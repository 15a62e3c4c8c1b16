// Package notify is the daily notification pipeline: the once-per-day gate,
// per-subscriber change filtering, message formatting and sequential
// delivery with pacing. Batch ties them together for one run.
package notify
