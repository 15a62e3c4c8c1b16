package config

import (
	"fmt"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// durationOr is used by the typed accessors below. Validate has already
// rejected malformed values, so an error here falls back to def.
func durationOr(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("", raw, def)
	if err != nil {
		return def
	}
	return d
}

func (c TelegramConfig) PollTimeoutDuration() time.Duration {
	return durationOr(c.PollTimeout, 10*time.Second)
}

func (c StorageConfig) BusyTimeoutDuration() time.Duration {
	return durationOr(c.BusyTimeout, 5*time.Second)
}

// PacingDuration is the delay between two subscriber sends.
func (c NotifyConfig) PacingDuration() time.Duration {
	return durationOr(c.Pacing, 100*time.Millisecond)
}

func (c NotifyConfig) SendTimeoutDuration() time.Duration {
	return durationOr(c.SendTimeout, 10*time.Second)
}

func (c AnnounceConfig) PacingDuration() time.Duration {
	return durationOr(c.Pacing, 500*time.Millisecond)
}

func (c AuthGateConfig) OTPTTLDuration() time.Duration {
	return durationOr(c.OTPTTL, 10*time.Minute)
}

func (c AuthGateConfig) SessionTTLDuration() time.Duration {
	return durationOr(c.SessionTTL, 7*24*time.Hour)
}

func (c AuthGateConfig) RateLimitWindowDuration() time.Duration {
	return durationOr(c.RateLimitWindow, time.Hour)
}

// SecureCookie defaults to true; only local HTTP testing turns it off.
func (c AuthGateConfig) SecureCookie() bool {
	return c.CookieSecure == nil || *c.CookieSecure
}
