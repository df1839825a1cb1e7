package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"fibonacci-trader/internal/constants"
	"fibonacci-trader/internal/utils"
)

// TradingHours restricts evaluation to a daily session window (local time)
type TradingHours struct {
	Enabled bool   `yaml:"enabled"`
	Open    string `yaml:"open"`  // HH:MM
	Close   string `yaml:"close"` // HH:MM
}

// StrategyConfig is copied into every strategy instance at construction
type StrategyConfig struct {
	// Fibonacci
	FibPeriod         int       `yaml:"fib_period"`
	MinTrendPercent   float64   `yaml:"min_trend_percent"`
	RetracementRatios []float64 `yaml:"retracement_ratios"`
	ExtensionRatios   []float64 `yaml:"extension_ratios"`
	TouchTolerance    float64   `yaml:"touch_tolerance"` // fraction, 0.001 = 0.1%
	// Confirmation
	RSIPeriod     int     `yaml:"rsi_period"`
	RSIOverbought float64 `yaml:"rsi_overbought"`
	RSIOversold   float64 `yaml:"rsi_oversold"`
	UseMAFilter   bool    `yaml:"use_ma_filter"`
	MAPeriod      int     `yaml:"ma_period"`
	BarCount      int     `yaml:"bar_count"`
	// Risk
	RiskPercent  float64 `yaml:"risk_percent"`
	MaxPositions int     `yaml:"max_positions"`
	MinRRRatio   float64 `yaml:"min_rr_ratio"`
	Deviation    int     `yaml:"deviation"`
	Magic        int     `yaml:"magic"`
	// Timing
	PollInterval     time.Duration `yaml:"poll_interval"`
	ErrorCooldown    time.Duration `yaml:"error_cooldown"`
	CallTimeout      time.Duration `yaml:"call_timeout"`
	MinEvalInterval  time.Duration `yaml:"min_eval_interval"`
	MinTradeInterval time.Duration `yaml:"min_trade_interval"`
	TradingHours     TradingHours  `yaml:"trading_hours"`
}

// Config holds application configuration
type Config struct {
	// Broker selection: "paper" or "rest"
	Broker      string
	BridgeURL   string
	APIKey      string
	APISecret   string
	RecvWindow  string
	HTTPTimeout time.Duration
	// Paper broker
	PaperEquity    float64
	PaperDataFile  string
	PaperSeed      int64
	PaperPoint     float64
	PaperTickValue float64
	PaperSpread    float64 // in points
	PaperStart     float64 // first synthetic price
	PaperVolMin    float64
	PaperVolMax    float64
	PaperVolStep   float64
	// Instruments started at boot
	Symbols   []string
	Timeframe string
	LotBase   float64
	Strategy  StrategyConfig
	// Account ticker cadence
	AccountRefresh time.Duration
	// Logging configuration
	LogFile       string
	LogMaxSize    int // megabytes
	LogMaxBackups int // number of files
	LogMaxAge     int // days
	LogCompress   bool
	LogLevel      int // 0=DEBUG, 1=INFO, 2=WARNING, 3=ERROR
	// Status server configuration
	StatusAddr string
	// Daemon configuration
	DaemonMode bool
	PIDFile    string
	Debug      bool
}

// DefaultStrategyConfig returns the engine defaults
func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		FibPeriod:         constants.DefaultFibPeriod,
		MinTrendPercent:   constants.DefaultMinTrendPercent,
		RetracementRatios: []float64{0.382, 0.5, 0.618},
		ExtensionRatios:   []float64{1.272, 1.618},
		TouchTolerance:    constants.DefaultTouchTolerance,
		RSIPeriod:         constants.DefaultRSIPeriod,
		RSIOverbought:     constants.DefaultRSIOverbought,
		RSIOversold:       constants.DefaultRSIOversold,
		UseMAFilter:       true,
		MAPeriod:          constants.DefaultMAPeriod,
		BarCount:          constants.DefaultBarCount,
		RiskPercent:       constants.DefaultRiskPercent,
		MaxPositions:      constants.DefaultMaxPositions,
		MinRRRatio:        constants.DefaultMinRRRatio,
		Deviation:         constants.DefaultDeviation,
		Magic:             constants.DefaultMagic,
		PollInterval:      time.Second,
		ErrorCooldown:     10 * time.Second,
		CallTimeout:       10 * time.Second,
		MinEvalInterval:   0,
		MinTradeInterval:  30 * time.Second,
		TradingHours: TradingHours{
			Enabled: false,
			Open:    "09:00",
			Close:   "17:30",
		},
	}
}

// LoadDotEnv loads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored;
// a file that exists but cannot be parsed is an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// LoadConfig loads configuration from environment variables or uses defaults
func LoadConfig() *Config {
	sc := DefaultStrategyConfig()
	sc.FibPeriod = getEnvAsInt("FIB_PERIOD", sc.FibPeriod)
	sc.MinTrendPercent = getEnvAsFloat("MIN_TREND_PERCENT", sc.MinTrendPercent)
	sc.RetracementRatios = getEnvAsFloats("FIB_RETRACEMENTS", sc.RetracementRatios)
	sc.ExtensionRatios = getEnvAsFloats("FIB_EXTENSIONS", sc.ExtensionRatios)
	sc.TouchTolerance = getEnvAsFloat("TOUCH_TOLERANCE", sc.TouchTolerance)
	sc.RSIPeriod = getEnvAsInt("RSI_PERIOD", sc.RSIPeriod)
	sc.RSIOverbought = getEnvAsFloat("RSI_OVERBOUGHT", sc.RSIOverbought)
	sc.RSIOversold = getEnvAsFloat("RSI_OVERSOLD", sc.RSIOversold)
	sc.UseMAFilter = getEnvAsBool("USE_MA_FILTER", sc.UseMAFilter)
	sc.MAPeriod = getEnvAsInt("MA_PERIOD", sc.MAPeriod)
	sc.BarCount = getEnvAsInt("BAR_COUNT", sc.BarCount)
	sc.RiskPercent = getEnvAsFloat("RISK_PERCENT", sc.RiskPercent)
	sc.MaxPositions = getEnvAsInt("MAX_POSITIONS", sc.MaxPositions)
	sc.MinRRRatio = getEnvAsFloat("MIN_RR_RATIO", sc.MinRRRatio)
	sc.Deviation = getEnvAsInt("ORDER_DEVIATION", sc.Deviation)
	sc.Magic = getEnvAsInt("ORDER_MAGIC", sc.Magic)
	sc.PollInterval = getEnvAsDuration("POLL_INTERVAL", sc.PollInterval)
	sc.ErrorCooldown = getEnvAsDuration("ERROR_COOLDOWN", sc.ErrorCooldown)
	sc.CallTimeout = getEnvAsDuration("CALL_TIMEOUT", sc.CallTimeout)
	sc.MinEvalInterval = getEnvAsDuration("MIN_EVAL_INTERVAL", sc.MinEvalInterval)
	sc.MinTradeInterval = getEnvAsDuration("MIN_TRADE_INTERVAL", sc.MinTradeInterval)
	sc.TradingHours.Enabled = getEnvAsBool("TRADING_HOURS_ENABLED", sc.TradingHours.Enabled)
	sc.TradingHours.Open = getEnv("TRADING_HOURS_OPEN", sc.TradingHours.Open)
	sc.TradingHours.Close = getEnv("TRADING_HOURS_CLOSE", sc.TradingHours.Close)

	return &Config{
		Broker:      strings.ToLower(getEnv("BROKER", "paper")),
		BridgeURL:   getEnv("BRIDGE_URL", "http://127.0.0.1:8787"),
		APIKey:      getEnv("BRIDGE_API_KEY", ""),
		APISecret:   getEnv("BRIDGE_API_SECRET", ""),
		RecvWindow:  "5000",
		HTTPTimeout: getEnvAsDuration("HTTP_TIMEOUT", 15*time.Second),
		// Paper defaults follow a 5-digit FX major
		PaperEquity:    getEnvAsFloat("PAPER_EQUITY", 10000),
		PaperDataFile:  getEnv("PAPER_DATA_FILE", ""),
		PaperSeed:      int64(getEnvAsInt("PAPER_SEED", 42)),
		PaperPoint:     getEnvAsFloat("PAPER_POINT", 0.0001),
		PaperTickValue: getEnvAsFloat("PAPER_TICK_VALUE", 1.0),
		PaperSpread:    getEnvAsFloat("PAPER_SPREAD_POINTS", 1.0),
		PaperStart:     getEnvAsFloat("PAPER_START_PRICE", 1.10),
		PaperVolMin:    getEnvAsFloat("PAPER_VOLUME_MIN", 0.01),
		PaperVolMax:    getEnvAsFloat("PAPER_VOLUME_MAX", 100.0),
		PaperVolStep:   getEnvAsFloat("PAPER_VOLUME_STEP", 0.01),

		Symbols:        getEnvAsList("SYMBOLS", []string{"EURUSD"}),
		Timeframe:      strings.ToUpper(getEnv("TIMEFRAME", constants.Minute15)),
		LotBase:        getEnvAsFloat("LOT_BASE", 0.1),
		Strategy:       sc,
		AccountRefresh: getEnvAsDuration("ACCOUNT_REFRESH", 5*time.Second),
		// Logging defaults
		LogFile:       getEnv("LOG_FILE", "logs/fibonacci_trader.log"),
		LogMaxSize:    10, // 10 MB
		LogMaxBackups: 5,  // 5 backup files
		LogMaxAge:     30, // 30 days
		LogCompress:   true,
		LogLevel:      getEnvAsInt("LOG_LEVEL", 1), // INFO level
		// Status server defaults
		StatusAddr: getEnv("STATUS_ADDR", "127.0.0.1:6061"),
		// Daemon defaults
		DaemonMode: getEnvAsBool("DAEMON_MODE", false),
		PIDFile:    getEnv("PID_FILE", "fibonacci-trader.pid"),
	}
}

// fileOverlay is the YAML document accepted by ApplyFile
type fileOverlay struct {
	Symbols   []string        `yaml:"symbols"`
	Timeframe string          `yaml:"timeframe"`
	LotBase   float64         `yaml:"lot_base"`
	Strategy  *StrategyConfig `yaml:"strategy"`
}

// ApplyFile overlays a YAML file on top of the loaded configuration.
// Only keys present in the file replace existing values.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	overlay := fileOverlay{Strategy: &c.Strategy}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if len(overlay.Symbols) > 0 {
		c.Symbols = overlay.Symbols
	}
	if overlay.Timeframe != "" {
		c.Timeframe = strings.ToUpper(overlay.Timeframe)
	}
	if overlay.LotBase > 0 {
		c.LotBase = overlay.LotBase
	}
	return nil
}

// Validate checks the strategy parameters for internal consistency
func (s StrategyConfig) Validate() error {
	switch {
	case s.FibPeriod < 2:
		return fmt.Errorf("fib period must be >= 2, got %d", s.FibPeriod)
	case len(s.RetracementRatios) == 0:
		return fmt.Errorf("at least one retracement ratio is required")
	case s.RSIPeriod <= 0:
		return fmt.Errorf("rsi period must be positive, got %d", s.RSIPeriod)
	case s.RSIOversold >= s.RSIOverbought:
		return fmt.Errorf("rsi oversold %.2f must be below overbought %.2f", s.RSIOversold, s.RSIOverbought)
	case s.MAPeriod <= 0:
		return fmt.Errorf("ma period must be positive, got %d", s.MAPeriod)
	case s.BarCount < constants.MinBars:
		return fmt.Errorf("bar count must be >= %d, got %d", constants.MinBars, s.BarCount)
	case s.BarCount < s.MAPeriod || s.BarCount < s.FibPeriod || s.BarCount <= s.RSIPeriod:
		return fmt.Errorf("bar count %d too small for ma/fib/rsi periods", s.BarCount)
	case s.TouchTolerance <= 0:
		return fmt.Errorf("touch tolerance must be positive")
	case s.RiskPercent <= 0:
		return fmt.Errorf("risk percent must be positive")
	case s.MaxPositions <= 0:
		return fmt.Errorf("max positions must be positive")
	case s.MinRRRatio <= 0:
		return fmt.Errorf("minimum reward/risk must be positive")
	case s.PollInterval <= 0:
		return fmt.Errorf("poll interval must be positive")
	}
	for i := 1; i < len(s.RetracementRatios); i++ {
		if s.RetracementRatios[i] <= s.RetracementRatios[i-1] {
			return fmt.Errorf("retracement ratios must be strictly ascending")
		}
	}
	for _, e := range s.ExtensionRatios {
		if e <= 1 {
			return fmt.Errorf("extension ratio %.3f must be > 1", e)
		}
	}
	if s.TradingHours.Enabled {
		if _, err := ParseClock(s.TradingHours.Open); err != nil {
			return err
		}
		if _, err := ParseClock(s.TradingHours.Close); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the whole configuration
func (c *Config) Validate() error {
	if !utils.ValidTimeframe(c.Timeframe) {
		return fmt.Errorf("invalid timeframe %q", c.Timeframe)
	}
	if c.LotBase <= 0 {
		return fmt.Errorf("lot base must be positive")
	}
	switch c.Broker {
	case "paper":
	case "rest":
		if c.BridgeURL == "" {
			return fmt.Errorf("rest broker needs BRIDGE_URL")
		}
	default:
		return fmt.Errorf("unknown broker %q", c.Broker)
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	if c.AccountRefresh <= 0 {
		return fmt.Errorf("account refresh must be positive")
	}
	return c.Strategy.Validate()
}

// ParseClock parses HH:MM into minutes after midnight
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// getEnvAsBool gets an environment variable as a boolean value
func getEnvAsBool(key string, defaultValue bool) bool {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvAsInt(key string, defaultValue int) int {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.ToUpper(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvAsFloats(key string, defaultValue []float64) []float64 {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	var out []float64
	for _, part := range strings.Split(value, ",") {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return defaultValue
		}
		out = append(out, f)
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}
