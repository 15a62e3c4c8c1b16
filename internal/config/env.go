package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ApplyEnv overlays secrets and deployment knobs from the environment.
// Non-empty variables win over file values.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Telegram.Token, "TELEGRAM_BOT_TOKEN")
	set(&c.Notify.DashboardURL, "DASHBOARD_URL")
	set(&c.AuthGate.CookieSecret, "AUTH_COOKIE_SECRET")
	set(&c.AuthGate.SMTP.Server, "SMTP_SERVER")
	set(&c.AuthGate.SMTP.User, "SMTP_USER")
	set(&c.AuthGate.SMTP.Password, "SMTP_PASSWORD")
	set(&c.AuthGate.SMTP.From, "SMTP_FROM")
	if v := strings.TrimSpace(getenv("SMTP_PORT")); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.AuthGate.SMTP.Port = p
		}
	}
	if c.AuthGate.SMTP.From == "" {
		c.AuthGate.SMTP.From = c.AuthGate.SMTP.User
	}
}
