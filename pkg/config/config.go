// Package config handles application configuration from defaults, an optional
// config file and environment variables.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Authentication
	APIPassword string

	// Proxy settings
	GlobalProxies      []string
	TransportRoutes    []TransportRoute
	ImpersonateDomains []string
	RequestTimeout     time.Duration

	// Download settings
	DownloadDir            string
	AllowedExtensions      []string
	MaxConcurrentDownloads int
	JobRetention           time.Duration

	// External tools
	FFmpegPath string
	YtDlpPath  string

	// GPU detection
	GPUForceCPU bool
	GPULayers   int
	EngineDirs  []string

	// Logging
	LogLevel string
	LogJSON  bool

	// FlareSolverr settings (for Cloudflare bypass)
	FlareSolverrURL     string
	FlareSolverrTimeout time.Duration
}

// TransportRoute defines URL-specific proxy routing.
type TransportRoute struct {
	URLPattern string
	Proxy      string
	DisableSSL bool
	Direct     bool // If true, bypass global proxy and connect directly
}

// DefaultAllowedExtensions are the container extensions preferred when
// resolving a finished download.
var DefaultAllowedExtensions = []string{"mp4", "mkv", "webm", "mov", "m4v", "m4a", "mp3"}

// DefaultImpersonateDomains need a browser TLS fingerprint to pass bot checks.
var DefaultImpersonateDomains = []string{"missav.", "thisav.", "av.gl", "surrit.com"}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 7860)
	v.SetDefault("read_timeout", "30s")
	v.SetDefault("write_timeout", "120s")
	v.SetDefault("idle_timeout", "60s")
	v.SetDefault("request_timeout", "30s")
	v.SetDefault("download_dir", "downloads")
	v.SetDefault("allowed_extensions", strings.Join(DefaultAllowedExtensions, ","))
	v.SetDefault("impersonate_domains", strings.Join(DefaultImpersonateDomains, ","))
	v.SetDefault("max_concurrent_downloads", 2)
	v.SetDefault("job_retention", "1h")
	v.SetDefault("ffmpeg_path", "ffmpeg")
	v.SetDefault("ytdlp_path", "")
	v.SetDefault("gpu_force_cpu", false)
	v.SetDefault("gpu_layers", 999)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
	v.SetDefault("flaresolverr_url", "")
	v.SetDefault("flaresolverr_timeout", "60s")
}

// Load reads configuration. configPath is optional; when set the file must
// exist and its format is taken from the extension (yaml, toml, json).
// Environment variables (PORT, LOG_LEVEL, DOWNLOAD_DIR, ...) override both.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		Port:                   v.GetInt("port"),
		ReadTimeout:            getDuration(v, "read_timeout", 30*time.Second),
		WriteTimeout:           getDuration(v, "write_timeout", 120*time.Second),
		IdleTimeout:            getDuration(v, "idle_timeout", 60*time.Second),
		RequestTimeout:         getDuration(v, "request_timeout", 30*time.Second),
		APIPassword:            v.GetString("api_password"),
		GlobalProxies:          getStringSlice(v, "global_proxies"),
		ImpersonateDomains:     getStringSlice(v, "impersonate_domains"),
		DownloadDir:            v.GetString("download_dir"),
		AllowedExtensions:      normalizeExtensions(getStringSlice(v, "allowed_extensions")),
		MaxConcurrentDownloads: v.GetInt("max_concurrent_downloads"),
		JobRetention:           getDuration(v, "job_retention", time.Hour),
		FFmpegPath:             v.GetString("ffmpeg_path"),
		YtDlpPath:              v.GetString("ytdlp_path"),
		GPUForceCPU:            v.GetBool("gpu_force_cpu"),
		GPULayers:              v.GetInt("gpu_layers"),
		EngineDirs:             getStringSlice(v, "engine_dirs"),
		LogLevel:               v.GetString("log_level"),
		LogJSON:                v.GetBool("log_json"),
		FlareSolverrURL:        v.GetString("flaresolverr_url"),
		FlareSolverrTimeout:    getDuration(v, "flaresolverr_timeout", 60*time.Second),
	}

	cfg.TransportRoutes = parseTransportRoutes(v.GetString("transport_routes"))

	// Legacy single proxy support
	if globalProxy := v.GetString("global_proxy"); globalProxy != "" && len(cfg.GlobalProxies) == 0 {
		cfg.GlobalProxies = []string{globalProxy}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Port)
	}
	if c.DownloadDir == "" {
		return fmt.Errorf("download directory not configured")
	}
	if c.MaxConcurrentDownloads < 1 {
		return fmt.Errorf("max concurrent downloads must be at least 1")
	}
	return nil
}

// parseTransportRoutes parses the TRANSPORT_ROUTES setting.
// Format: {URL=pattern, PROXY=url, DISABLE_SSL=true}, {URL=pattern2, DIRECT=true}
func parseTransportRoutes(s string) []TransportRoute {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	var routes []TransportRoute
	for _, part := range strings.Split(s, "}, {") {
		part = strings.Trim(part, "{} ")
		if part == "" {
			continue
		}

		route := TransportRoute{}
		for _, field := range strings.Split(part, ", ") {
			key, value, ok := strings.Cut(field, "=")
			if !ok {
				continue
			}
			value = strings.TrimSpace(value)

			switch strings.ToUpper(strings.TrimSpace(key)) {
			case "URL":
				route.URLPattern = value
			case "PROXY":
				route.Proxy = value
			case "DISABLE_SSL":
				route.DisableSSL = strings.EqualFold(value, "true")
			case "DIRECT":
				route.Direct = strings.EqualFold(value, "true")
			}
		}
		if route.URLPattern != "" {
			routes = append(routes, route)
		}
	}

	return routes
}

// getDuration accepts a bare number of seconds or a Go duration string.
func getDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	val := strings.TrimSpace(v.GetString(key))
	if val == "" {
		return defaultVal
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	return defaultVal
}

// getStringSlice reads either a list value (config file) or a comma
// separated string (environment).
func getStringSlice(v *viper.Viper, key string) []string {
	var raw []string
	switch val := v.Get(key).(type) {
	case nil:
		return nil
	case []any, []string:
		raw = v.GetStringSlice(key)
	default:
		raw = strings.Split(fmt.Sprint(val), ",")
	}

	result := make([]string, 0, len(raw))
	for _, p := range raw {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		if ext = strings.ToLower(strings.TrimPrefix(ext, ".")); ext != "" {
			out = append(out, ext)
		}
	}
	return out
}
