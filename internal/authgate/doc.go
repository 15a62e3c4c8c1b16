// Package authgate serves the dashboard behind email one-time-password
// login. Whitelisted addresses request a 6-digit code by mail, exchange it
// for a signed session cookie and get the dashboard instead of the login
// page.
//
// All state (pending codes, per-email request history, live sessions) is
// in memory, owned by a Server and pruned on read. Restarting the gateway
// logs everybody out.
package authgate
