// Package scheduler triggers jobs on cron expressions, daily clock times or
// fixed intervals. It is used by the bot command to run the notification
// batch in-process.
package scheduler
