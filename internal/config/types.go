package config

// Config is the on-disk configuration (JSON or YAML). Secrets are usually
// left empty here and supplied through the environment, see ApplyEnv.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Oracle   OracleConfig   `json:"oracle"`
	Notify   NotifyConfig   `json:"notify"`
	Announce AnnounceConfig `json:"announce"`
	AuthGate AuthGateConfig `json:"authgate"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	// GroupLog is the chat that receives operator log lines.
	GroupLog    int64  `json:"group_log,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string            `json:"level"`
	Console  bool              `json:"console"`
	File     LoggingFileConfig `json:"file"`
	Telegram LoggingTGConfig   `json:"telegram"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTGConfig struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the subscriber store.
//
//   - driver "file" keeps the JSON files the oracle dashboard already reads
//     (path = subscribers file, gate_path = last notification record,
//     audit_path = activity log of subscriber actions).
//   - driver "sqlite" keeps everything in one database at path.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	GatePath    string `json:"gate_path,omitempty"`
	AuditPath   string `json:"audit_path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type OracleConfig struct {
	ActiveIndexersPath string `json:"active_indexers_path"`
	ActivityLogPath    string `json:"activity_log_path"`
}

type NotifyConfig struct {
	DashboardURL string `json:"dashboard_url"`
	// Pacing is the delay between two sends.
	Pacing      string `json:"pacing,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
	// Schedule enables the in-process daily batch when running `reobot bot`.
	// Accepts cron ("0 9 * * *"), "@daily", an interval ("24h") or "HH:MM".
	Schedule             string `json:"schedule,omitempty"`
	Timezone             string `json:"timezone,omitempty"`
	AllowMissingActivity bool   `json:"allow_missing_activity,omitempty"`
	Detailed             bool   `json:"detailed,omitempty"`
}

type AnnounceConfig struct {
	Pacing string `json:"pacing,omitempty"`
}

type AuthGateConfig struct {
	Addr            string     `json:"addr"`
	WebRoot         string     `json:"web_root"`
	WhitelistPath   string     `json:"whitelist_path"`
	CookieSecret    string     `json:"cookie_secret,omitempty"`
	CookieSecure    *bool      `json:"cookie_secure,omitempty"`
	CORSOrigins     []string   `json:"cors_origins,omitempty"`
	OTPTTL          string     `json:"otp_ttl,omitempty"`
	SessionTTL      string     `json:"session_ttl,omitempty"`
	RateLimitWindow string     `json:"rate_limit_window,omitempty"`
	RateLimitMax    int        `json:"rate_limit_max,omitempty"`
	SMTP            SMTPConfig `json:"smtp"`
}

type SMTPConfig struct {
	Server   string `json:"server"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password,omitempty"`
	From     string `json:"from"`
}
