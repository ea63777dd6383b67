package main

import (
	"os"
	"strings"
)

// Config is the environment-backed process configuration, read once at
// startup.
type Config struct {
	Port              string
	RecordStoreURL    string
	RecordStoreKey    string
	RecordStoreBaseID string
	CacheURL          string
	AllowedHosts      []string

	SMTPServer   string
	SMTPPort     string
	SMTPUser     string
	SMTPPassword string
	FromEmail    string
	AlertEmails  []string

	SlackWebhookURL string
	WebhookURL      string

	ReportsDir    string
	FetchCacheDir string

	MockAnalytics  bool
	ProductionMode bool
}

func loadConfig() Config {
	return Config{
		Port:              envOr("PORT", "8080"),
		RecordStoreURL:    os.Getenv("RECORD_STORE_URL"),
		RecordStoreKey:    os.Getenv("RECORD_STORE_KEY"),
		RecordStoreBaseID: os.Getenv("RECORD_STORE_BASE_ID"),
		CacheURL:          envOr("CACHE_URL", "local-cache://localhost:6379"),
		AllowedHosts:      splitList(os.Getenv("ALLOWED_HOSTS")),
		SMTPServer:        os.Getenv("SMTP_SERVER"),
		SMTPPort:          envOr("SMTP_PORT", "587"),
		SMTPUser:          os.Getenv("SMTP_USER"),
		SMTPPassword:      os.Getenv("SMTP_PASSWORD"),
		FromEmail:         os.Getenv("FROM_EMAIL"),
		AlertEmails:       splitList(os.Getenv("ALERT_EMAILS")),
		SlackWebhookURL:   os.Getenv("SLACK_WEBHOOK_URL"),
		WebhookURL:        os.Getenv("WEBHOOK_URL"),
		ReportsDir:        envOr("REPORTS_DIR", "reports"),
		FetchCacheDir:     envOr("FETCH_CACHE_DIR", "fetch-cache"),
		MockAnalytics:     os.Getenv("MOCK_ANALYTICS") == "true",
		ProductionMode:    os.Getenv("PRODUCTION_MODE") == "true",
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// redisAddr strips the scheme off CACHE_URL, which is either a bare
// host:port or a local-cache://host:port / redis://host:port URL.
func redisAddr(cacheURL string) string {
	if i := strings.Index(cacheURL, "://"); i >= 0 {
		cacheURL = cacheURL[i+3:]
	}
	return cacheURL
}
