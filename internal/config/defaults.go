package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const DefaultDashboardURL = "http://dashboards.thegraph.foundation/reo/"

// ApplyDefaults fills zero values with the file names and knobs the oracle
// dashboard has always used.
func (c *Config) ApplyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "file"
	}
	if c.Storage.Path == "" {
		if c.Storage.Driver == "sqlite" {
			c.Storage.Path = "reobot.db"
		} else {
			c.Storage.Path = "subscribers_telegram.json"
		}
	}
	if c.Storage.GatePath == "" {
		c.Storage.GatePath = "last_telegram_notification.json"
	}
	if c.Storage.AuditPath == "" {
		c.Storage.AuditPath = "logs/telegram_bot_activity.log"
	}
	if c.Oracle.ActiveIndexersPath == "" {
		c.Oracle.ActiveIndexersPath = "active_indexers.json"
	}
	if c.Oracle.ActivityLogPath == "" {
		c.Oracle.ActivityLogPath = "activity_log_indexers_status_changes.json"
	}
	if c.Notify.DashboardURL == "" {
		c.Notify.DashboardURL = DefaultDashboardURL
	}
	if c.AuthGate.Addr == "" {
		c.AuthGate.Addr = ":8080"
	}
	if c.AuthGate.WebRoot == "" {
		c.AuthGate.WebRoot = "."
	}
	if c.AuthGate.WhitelistPath == "" {
		c.AuthGate.WhitelistPath = "auth_whitelist.txt"
	}
	if c.AuthGate.RateLimitMax <= 0 {
		c.AuthGate.RateLimitMax = 5
	}
	if c.AuthGate.SMTP.Port == 0 {
		c.AuthGate.SMTP.Port = 587
	}
}

// Validate checks values that cannot be fixed by defaults.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case "file", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	durations := map[string]string{
		"telegram.poll_timeout":      c.Telegram.PollTimeout,
		"storage.busy_timeout":       c.Storage.BusyTimeout,
		"notify.pacing":              c.Notify.Pacing,
		"notify.send_timeout":        c.Notify.SendTimeout,
		"announce.pacing":            c.Announce.Pacing,
		"authgate.otp_ttl":           c.AuthGate.OTPTTL,
		"authgate.session_ttl":       c.AuthGate.SessionTTL,
		"authgate.rate_limit_window": c.AuthGate.RateLimitWindow,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if tz := strings.TrimSpace(c.Notify.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("notify.timezone: %w", err))
		}
	}
	return errors.Join(errs...)
}
