package infra

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"

	"screener_go/internal/domain"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var (
	// currentUserAgent is protected by a mutex so a front-end can sync its own UA string
	uaMu             sync.RWMutex
	currentUserAgent = GetPlatformUserAgent() // Initialize with OS-appropriate string
)

// GetUserAgent returns the current active User-Agent string. (Thread-safe)
func GetUserAgent() string {
	uaMu.RLock()
	defer uaMu.RUnlock()
	return currentUserAgent
}

// SetUserAgent updates the global User-Agent string. (Thread-safe)
func SetUserAgent(ua string) {
	uaMu.Lock()
	defer uaMu.Unlock()
	currentUserAgent = ua
}

// GetPlatformUserAgent generates a browser-like User-Agent string based on current OS.
func GetPlatformUserAgent() string {
	chromeVer := "120.0.0.0"
	goos := runtime.GOOS
	arch := runtime.GOARCH

	switch goos {
	case "windows":
		return fmt.Sprintf("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", chromeVer)
	case "linux":
		linuxArch := "x86_64"
		if arch == "arm64" {
			linuxArch = "aarch64"
		}
		return fmt.Sprintf("Mozilla/5.0 (X11; Linux %s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", linuxArch, chromeVer)
	case "darwin":
		return fmt.Sprintf("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", chromeVer)
	default:
		return "Mozilla/5.0 (compatible; Screener/1.0)"
	}
}

// Endpoint is the REST and stream base of one segment.
type Endpoint struct {
	RestURL string `yaml:"rest_url"`
	WSURL   string `yaml:"ws_url"`
}

// Config holds every setting of the screener.
// LoadConfig fills defaults, then lets environment variables override the file.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Market struct {
		Segment            string `yaml:"segment"`
		Interval           string `yaml:"interval"`
		CandleLimit        int    `yaml:"candle_limit"`
		MaxCandles         int    `yaml:"max_candles"`
		RestrictToUniverse bool   `yaml:"restrict_to_universe"`
	} `yaml:"market"`

	Binance struct {
		Spot    Endpoint `yaml:"spot"`
		Futures Endpoint `yaml:"futures"`
	} `yaml:"binance"`

	Stream struct {
		MaxRetries          int `yaml:"max_retries"`
		BaseDelayMS         int `yaml:"base_delay_ms"`
		ReadTimeoutSec      int `yaml:"read_timeout_sec"`
		HandshakeTimeoutSec int `yaml:"handshake_timeout_sec"`
	} `yaml:"stream"`

	HTTP struct {
		TimeoutSec int     `yaml:"timeout_sec"`
		RatePerSec float64 `yaml:"rate_per_sec"`
		Burst      int     `yaml:"burst"`
	} `yaml:"http"`

	View struct {
		SortField      string `yaml:"sort_field"`
		SortDirection  string `yaml:"sort_direction"`
		Search         string `yaml:"search"`
		DarkMode       *bool  `yaml:"dark_mode"`
		PushIntervalMS int    `yaml:"push_interval_ms"`
	} `yaml:"view"`

	API struct {
		Addr string `yaml:"addr"`
	} `yaml:"api"`

	Redis struct {
		Addr            string `yaml:"addr"`
		Password        string `yaml:"password"`
		DB              int    `yaml:"db"`
		KeyPrefix       string `yaml:"key_prefix"`
		Channel         string `yaml:"channel"`
		FlushIntervalMS int    `yaml:"flush_interval_ms"`
	} `yaml:"redis"`

	Journal struct {
		Path string `yaml:"path"`
	} `yaml:"journal"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML bytes, applies defaults and env overrides, then validates.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	// .env is optional; real environment variables still win over it.
	_ = godotenv.Load()
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = AppName
	}
	if c.Market.Segment == "" {
		c.Market.Segment = string(domain.SegmentSpot)
	}
	if c.Market.Interval == "" {
		c.Market.Interval = string(domain.Interval1m)
	}
	if c.Market.CandleLimit == 0 {
		c.Market.CandleLimit = 500
	}
	if c.Market.MaxCandles == 0 {
		c.Market.MaxCandles = 1000
	}
	if c.Binance.Spot.RestURL == "" {
		c.Binance.Spot.RestURL = "https://api.binance.com/api/v3"
	}
	if c.Binance.Spot.WSURL == "" {
		c.Binance.Spot.WSURL = "wss://stream.binance.com:9443/ws/"
	}
	if c.Binance.Futures.RestURL == "" {
		c.Binance.Futures.RestURL = "https://fapi.binance.com/fapi/v1"
	}
	if c.Binance.Futures.WSURL == "" {
		c.Binance.Futures.WSURL = "wss://fstream.binance.com/ws/"
	}
	if c.Stream.MaxRetries == 0 {
		c.Stream.MaxRetries = DefaultMaxRetries
	}
	if c.Stream.BaseDelayMS == 0 {
		c.Stream.BaseDelayMS = int(DefaultBaseDelay.Milliseconds())
	}
	if c.Stream.ReadTimeoutSec == 0 {
		c.Stream.ReadTimeoutSec = 60
	}
	if c.Stream.HandshakeTimeoutSec == 0 {
		c.Stream.HandshakeTimeoutSec = 10
	}
	if c.HTTP.TimeoutSec == 0 {
		c.HTTP.TimeoutSec = 10
	}
	if c.HTTP.RatePerSec == 0 {
		c.HTTP.RatePerSec = 10
	}
	if c.HTTP.Burst == 0 {
		c.HTTP.Burst = 5
	}
	if c.View.SortField == "" {
		c.View.SortField = string(domain.SortByVolume)
	}
	if c.View.SortDirection == "" {
		c.View.SortDirection = string(domain.Descending)
	}
	if c.View.DarkMode == nil {
		dark := true
		c.View.DarkMode = &dark
	}
	if c.View.PushIntervalMS == 0 {
		c.View.PushIntervalMS = 250
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "ticker:"
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = "screener.tickers"
	}
	if c.Redis.FlushIntervalMS == 0 {
		c.Redis.FlushIntervalMS = 500
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if _, err := domain.ParseSegment(c.Market.Segment); err != nil {
		return err
	}
	if _, err := domain.ParseInterval(c.Market.Interval); err != nil {
		return err
	}
	if c.Market.CandleLimit < 1 || c.Market.CandleLimit > 1500 {
		return fmt.Errorf("candle limit must be within 1..1500, got %d", c.Market.CandleLimit)
	}
	if c.Market.MaxCandles < c.Market.CandleLimit {
		return fmt.Errorf("max candles (%d) must not be below candle limit (%d)", c.Market.MaxCandles, c.Market.CandleLimit)
	}

	for name, ep := range map[string]Endpoint{"spot": c.Binance.Spot, "futures": c.Binance.Futures} {
		if !strings.HasPrefix(ep.WSURL, "ws://") && !strings.HasPrefix(ep.WSURL, "wss://") {
			return fmt.Errorf("invalid %s WS URL: %s", name, ep.WSURL)
		}
		if !strings.HasPrefix(ep.RestURL, "http://") && !strings.HasPrefix(ep.RestURL, "https://") {
			return fmt.Errorf("invalid %s REST URL: %s", name, ep.RestURL)
		}
	}

	if c.Stream.MaxRetries < 0 {
		return fmt.Errorf("stream max retries must not be negative")
	}
	if c.Stream.BaseDelayMS <= 0 {
		return fmt.Errorf("stream base delay must be positive")
	}
	if c.HTTP.RatePerSec <= 0 || c.HTTP.Burst <= 0 {
		return fmt.Errorf("http rate limit must be positive")
	}

	if _, err := domain.ParseSortField(c.View.SortField); err != nil {
		return err
	}
	if _, err := domain.ParseSortDirection(c.View.SortDirection); err != nil {
		return err
	}
	if c.View.PushIntervalMS <= 0 {
		return fmt.Errorf("push interval must be positive")
	}

	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}

	return nil
}

// Endpoint returns the endpoints configured for seg.
func (c *Config) Endpoint(seg domain.Segment) Endpoint {
	if seg == domain.SegmentFutures {
		return c.Binance.Futures
	}
	return c.Binance.Spot
}

// overrideWithEnv lets environment variables take precedence over the file.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("SCREENER_SEGMENT"); v != "" {
		cfg.Market.Segment = v
	}
	if v := os.Getenv("SCREENER_INTERVAL"); v != "" {
		cfg.Market.Interval = v
	}
	if v := os.Getenv("SCREENER_API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
	if v := os.Getenv("SCREENER_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SCREENER_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SCREENER_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}
	if v := os.Getenv("SCREENER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
