package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

func getEnv(key, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	return value
}

func loadEnvString(key string, result *string) {
	s, ok := os.LookupEnv(key)

	if !ok {
		return
	}
	*result = s
}

func loadEnvUint(key string, result *uint) {
	s, ok := os.LookupEnv(key)

	if !ok {
		return
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return
	}
	*result = uint(n)
}

func loadEnvInt(key string, result *int) {
	s, ok := os.LookupEnv(key)

	if !ok {
		return
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return
	}
	*result = n
}

func loadEnvBool(key string, result *bool) {
	s, ok := os.LookupEnv(key)

	if !ok {
		return
	}
	*result = s == "true" || s == "1"
}

// loadEnvList splits a comma separated env value, trimming blanks.
func loadEnvList(key string, result *[]string) {
	s, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	*result = SplitList(s)
}

// SplitList splits a comma separated value, dropping empty entries.
func SplitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

/* Configuration */

/* PgSQL Configuration */
type pgSqlConfig struct {
	Host     string `json:"host"`
	Port     uint   `json:"port"`
	Database string `json:"database"`
	SslMode  string `json:"ssl_mode"`
	User     string `json:"user"`
	Password string `json:"password"`
}

func (p pgSqlConfig) ConnStr() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s database=%s sslmode=%s", p.Host, p.Port, p.User, p.Password, p.Database, p.SslMode)
}

func defaultPgSql() pgSqlConfig {
	return pgSqlConfig{
		Host:     "localhost",
		Port:     5432,
		Database: "contestradar",
		User:     "",
		Password: "",
		SslMode:  "disable",
	}
}

func (p *pgSqlConfig) loadFromEnv() {
	loadEnvString("POSTGRES_HOST", &p.Host)
	loadEnvUint("POSTGRES_PORT", &p.Port)
	loadEnvString("POSTGRES_DB_NAME", &p.Database)
	loadEnvString("POSTGRES_SSLMODE", &p.SslMode)
	loadEnvString("POSTGRES_USERNAME", &p.User)
	loadEnvString("POSTGRES_PASSWORD", &p.Password)
}

/* Listen Configuration */

type listenConfig struct {
	Host string `json:"host"`
	Port uint   `json:"port"`
}

func (l listenConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

func defaultListenConfig() listenConfig {
	return listenConfig{
		Host: "127.0.0.1",
		Port: 8080,
	}
}

func (l *listenConfig) loadFromEnv() {
	loadEnvString("LISTEN_HOST", &l.Host)
	loadEnvUint("LISTEN_PORT", &l.Port)
}

type natsConfig struct {
	Host     string
	Port     uint
	Username string
	Password string
}

func (c *natsConfig) loadFromEnv() {
	c.Host = getEnv("NATS_HOST", "localhost")

	if portStr := getEnv("NATS_PORT", "4222"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			c.Port = uint(port)
		} else {
			c.Port = 4222
		}
	} else {
		c.Port = 4222
	}

	c.Username = getEnv("NATS_USER", "")
	c.Password = getEnv("NATS_PASSWORD", "")
}

func (c *natsConfig) URL() string {
	return fmt.Sprintf("nats://%s:%d", c.Host, c.Port)
}

func defaultNatsConfig() natsConfig {
	return natsConfig{
		Host:     "localhost",
		Port:     4222,
		Username: "",
		Password: "",
	}
}

type securityConfig struct {
	BackendApiKey string
}

func (s *securityConfig) loadFromEnv() {
	s.BackendApiKey = getEnv("BACKEND_API_KEY", "")
}

func defaultSecurityConfig() securityConfig {
	return securityConfig{
		BackendApiKey: "",
	}
}

type redisConfig struct {
	Host     string `json:"host"`
	Port     uint   `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

func (r *redisConfig) loadFromEnv() {
	loadEnvString("REDIS_HOST", &r.Host)
	loadEnvUint("REDIS_PORT", &r.Port)
	loadEnvString("REDIS_PASSWORD", &r.Password)

	if dbStr := getEnv("REDIS_DB", "0"); dbStr != "" {
		if db, err := strconv.Atoi(dbStr); err == nil {
			r.DB = db
		}
	}
}

func defaultRedisConfig() redisConfig {
	return redisConfig{
		Host:     "localhost",
		Port:     6379,
		Password: "",
		DB:       0,
	}
}

/* Scraper Configuration */

// ScraperConfig controls the outbound page fetcher shared by all strategies.
type ScraperConfig struct {
	ProxyURL       string
	UserAgent      string
	JitterMinMs    int
	JitterMaxMs    int
	RequestTimeout time.Duration
}

func (s *ScraperConfig) loadFromEnv() {
	loadEnvString("SCRAPER_PROXY_URL", &s.ProxyURL)
	loadEnvString("SCRAPER_USER_AGENT", &s.UserAgent)
	loadEnvInt("SCRAPER_JITTER_MIN_MS", &s.JitterMinMs)
	loadEnvInt("SCRAPER_JITTER_MAX_MS", &s.JitterMaxMs)

	timeoutSecs := 0
	loadEnvInt("SCRAPER_REQUEST_TIMEOUT_SECONDS", &timeoutSecs)
	if timeoutSecs > 0 {
		s.RequestTimeout = time.Duration(timeoutSecs) * time.Second
	}
}

func defaultScraperConfig() ScraperConfig {
	return ScraperConfig{
		ProxyURL:       "",
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		JitterMinMs:    500,
		JitterMaxMs:    2500,
		RequestTimeout: 30 * time.Second,
	}
}

/* Crawl Configuration */

// CrawlConfig controls the crawl cycle: which strategies run, when the
// scheduled cycle fires, and how detail jobs are spread and processed.
type CrawlConfig struct {
	ActiveStrategies []string
	CronSchedule     string
	DetailWorkers    int
	DetailSpreadMax  time.Duration
	DetailAttempts   int
}

func (c *CrawlConfig) loadFromEnv() {
	loadEnvList("ACTIVE_STRATEGIES", &c.ActiveStrategies)
	loadEnvString("CRAWL_CRON_SCHEDULE", &c.CronSchedule)
	loadEnvInt("CRAWL_DETAIL_WORKERS", &c.DetailWorkers)
	loadEnvInt("CRAWL_DETAIL_ATTEMPTS", &c.DetailAttempts)

	spreadSecs := -1
	loadEnvInt("CRAWL_DETAIL_SPREAD_SECONDS", &spreadSecs)
	if spreadSecs >= 0 {
		c.DetailSpreadMax = time.Duration(spreadSecs) * time.Second
	}
}

// IsStrategyActive reports whether a strategy id is in the active list.
func (c CrawlConfig) IsStrategyActive(id string) bool {
	for _, s := range c.ActiveStrategies {
		if s == id {
			return true
		}
	}
	return false
}

func defaultCrawlConfig() CrawlConfig {
	return CrawlConfig{
		ActiveStrategies: nil,
		CronSchedule:     "0 0 * * *",
		DetailWorkers:    5,
		DetailSpreadMax:  30 * time.Second,
		DetailAttempts:   3,
	}
}

/* Notification Configuration */

// ChannelConfig holds delivery credentials for one notification channel.
type ChannelConfig struct {
	ID       string
	Type     string
	Token    string
	ChatID   string
	ThreadID string
}

// NotifyConfig enumerates the configured notification channels. Per-strategy
// channel allowlists are read separately via ChannelsForStrategy.
type NotifyConfig struct {
	Channels []ChannelConfig
}

func (n *NotifyConfig) loadFromEnv() {
	var ids []string
	loadEnvList("NOTIFY_CHANNELS", &ids)

	n.Channels = n.Channels[:0]
	for _, id := range ids {
		prefix := "NOTIFY_CHANNEL_" + strings.ToUpper(id)
		n.Channels = append(n.Channels, ChannelConfig{
			ID:       id,
			Type:     getEnv(prefix+"_TYPE", "telegram"),
			Token:    getEnv(prefix+"_TOKEN", ""),
			ChatID:   getEnv(prefix+"_CHAT_ID", ""),
			ThreadID: getEnv(prefix+"_THREAD_ID", ""),
		})
	}
}

func defaultNotifyConfig() NotifyConfig {
	return NotifyConfig{}
}

// ChannelsForStrategy resolves the {STRATEGY_ID}_NOTIFY_CHANNELS allowlist.
// A nil result means "all configured channels".
func ChannelsForStrategy(strategyID string) []string {
	raw, ok := os.LookupEnv(strings.ToUpper(strategyID) + "_NOTIFY_CHANNELS")
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	return SplitList(raw)
}

/* Archive Configuration */

// ArchiveConfig gates the optional raw-HTML archive of detail pages.
type ArchiveConfig struct {
	Enabled         bool
	ProjectID       string
	CredentialsFile string
	Bucket          string
}

func (g *ArchiveConfig) loadFromEnv() {
	loadEnvBool("ARCHIVE_ENABLED", &g.Enabled)
	g.ProjectID = getEnv("GCS_PROJECT_ID", "")
	g.CredentialsFile = getEnv("GCS_CREDENTIALS_FILE", "")
	g.Bucket = getEnv("GCS_STORAGE_BUCKET", "")
}

func defaultArchiveConfig() ArchiveConfig {
	return ArchiveConfig{}
}

type Config struct {
	Listen   listenConfig
	PgSql    pgSqlConfig
	Security securityConfig
	Nats     natsConfig
	Redis    redisConfig
	Scraper  ScraperConfig
	Crawl    CrawlConfig
	Notify   NotifyConfig
	Archive  ArchiveConfig
}

func (c *Config) LoadFromEnv() {
	c.Listen.loadFromEnv()
	c.PgSql.loadFromEnv()
	c.Security.loadFromEnv()
	c.Nats.loadFromEnv()
	c.Redis.loadFromEnv()
	c.Scraper.loadFromEnv()
	c.Crawl.loadFromEnv()
	c.Notify.loadFromEnv()
	c.Archive.loadFromEnv()
}

func DefaultConfig() Config {
	return Config{
		Listen:   defaultListenConfig(),
		PgSql:    defaultPgSql(),
		Security: defaultSecurityConfig(),
		Nats:     defaultNatsConfig(),
		Redis:    defaultRedisConfig(),
		Scraper:  defaultScraperConfig(),
		Crawl:    defaultCrawlConfig(),
		Notify:   defaultNotifyConfig(),
		Archive:  defaultArchiveConfig(),
	}
}
