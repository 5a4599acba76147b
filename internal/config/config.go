package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/nitrate-forecast/internal/domain"
	"github.com/couchcryptid/nitrate-forecast/internal/gaps"
	"github.com/couchcryptid/nitrate-forecast/internal/lag"
	"github.com/couchcryptid/nitrate-forecast/internal/model"
)

// Source kinds.
const (
	SourceFile  = "file"
	SourceKafka = "kafka"
	SourcePIWeb = "piweb"
)

// Config holds all service settings, populated from environment variables.
// It is immutable once loaded; components receive derived option structs.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// RunInterval re-runs the pipeline periodically; zero runs once.
	RunInterval time.Duration

	SourceKind  string
	InputFile   string
	CatalogFile string
	Catalog     *Catalog
	OutputDir   string

	KafkaBrokers       []string
	KafkaSourceTopic   string
	KafkaSinkTopic     string
	KafkaGroupID       string
	KafkaSinkEnabled   bool
	KafkaIdleTimeout   time.Duration
	KafkaHistory       time.Duration
	BatchSize          int
	BatchFlushInterval time.Duration

	// PI Web API historian.
	PIWebURL       string
	PIWebUser      string
	PIWebPassword  string
	PIWebTimeout   time.Duration
	PIWebCacheSize int
	PIWebPageSize  int

	ClickHouseDSN string
	PostgresURL   string

	GridStep   time.Duration
	StudyStart time.Time
	StudyEnd   time.Time

	Gaps        gaps.Policy
	LagRange    lag.Range
	AutoLagTopN int

	ModelFamily string
	Orders      model.Orders
	Model       model.Settings

	Target         string
	Mode           domain.RollingMode
	TrainWindow    int
	Horizon        int
	StepAdvance    int
	AlertThreshold *float64
	Workers        int
	WindowTimeout  time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:         sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:         sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:        sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		SourceKind:       strings.ToLower(sharedcfg.EnvOrDefault("SOURCE_KIND", SourceFile)),
		InputFile:        sharedcfg.EnvOrDefault("INPUT_FILE", "data/series.json"),
		CatalogFile:      os.Getenv("CATALOG_FILE"),
		OutputDir:        sharedcfg.EnvOrDefault("OUTPUT_DIR", "out"),
		KafkaBrokers:     sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic: sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "nitrate-observations"),
		KafkaSinkTopic:   sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "nitrate-forecasts"),
		KafkaGroupID:     sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "nitrate-forecast"),
		PIWebURL:         os.Getenv("PIWEB_URL"),
		PIWebUser:        os.Getenv("PIWEB_USER"),
		PIWebPassword:    os.Getenv("PIWEB_PASSWORD"),
		ClickHouseDSN:    os.Getenv("CLICKHOUSE_DSN"),
		PostgresURL:      os.Getenv("POSTGRES_URL"),
		ModelFamily:      sharedcfg.EnvOrDefault("MODEL_FAMILY", model.FamilySARIMAX),
		Target:           sharedcfg.EnvOrDefault("TARGET_VARIABLE", "nitrate"),
		Mode:             domain.RollingMode(sharedcfg.EnvOrDefault("ROLLING_MODE", string(domain.ModeRolling))),
	}

	var err error
	if cfg.ShutdownTimeout, err = sharedcfg.ParseShutdownTimeout(); err != nil {
		return nil, wrap(err)
	}
	if cfg.BatchSize, err = sharedcfg.ParseBatchSize(); err != nil {
		return nil, wrap(err)
	}
	if cfg.BatchFlushInterval, err = sharedcfg.ParseBatchFlushInterval(); err != nil {
		return nil, wrap(err)
	}
	if err := cfg.loadDurations(); err != nil {
		return nil, err
	}
	if err := cfg.loadSizes(); err != nil {
		return nil, err
	}
	if err := cfg.loadStudyPeriod(); err != nil {
		return nil, err
	}
	if err := cfg.loadModel(); err != nil {
		return nil, err
	}
	if err := cfg.loadGaps(); err != nil {
		return nil, err
	}
	if cfg.KafkaSinkEnabled, err = envBool("KAFKA_SINK_ENABLED", false); err != nil {
		return nil, err
	}
	if cfg.AlertThreshold, err = envOptionalFloat("ALERT_THRESHOLD"); err != nil {
		return nil, err
	}
	if cfg.CatalogFile != "" {
		if cfg.Catalog, err = LoadCatalog(cfg.CatalogFile); err != nil {
			return nil, err
		}
		if cfg.Catalog.Target != "" && os.Getenv("TARGET_VARIABLE") == "" {
			cfg.Target = cfg.Catalog.Target
		}
		cfg.Gaps.Overrides = cfg.Catalog.FillOverrides()
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadDurations() error {
	var err error
	if c.RunInterval, err = envDuration("RUN_INTERVAL", 0, true); err != nil {
		return err
	}
	if c.KafkaIdleTimeout, err = envDuration("KAFKA_IDLE_TIMEOUT", 5*time.Second, false); err != nil {
		return err
	}
	if c.KafkaHistory, err = envDuration("KAFKA_HISTORY", 90*24*time.Hour, true); err != nil {
		return err
	}
	if c.PIWebTimeout, err = envDuration("PIWEB_TIMEOUT", 30*time.Second, false); err != nil {
		return err
	}
	if c.WindowTimeout, err = envDuration("WINDOW_TIMEOUT", 30*time.Second, true); err != nil {
		return err
	}
	secs, err := envInt("GRID_STEP_SECONDS", int(domain.DefaultGridStep/time.Second), 1)
	if err != nil {
		return err
	}
	c.GridStep = time.Duration(secs) * time.Second
	return nil
}

func (c *Config) loadSizes() error {
	ints := []struct {
		name string
		def  int
		min  int
		dst  *int
	}{
		{"PIWEB_CACHE_SIZE", 1000, 1, &c.PIWebCacheSize},
		{"PIWEB_PAGE_SIZE", 10000, 1, &c.PIWebPageSize},
		{"AUTO_LAG_TOP_N", 3, 0, &c.AutoLagTopN},
		{"TRAIN_WINDOW_STEPS", 24 * 30, 1, &c.TrainWindow},
		{"FORECAST_HORIZON_STEPS", 24, 1, &c.Horizon},
		{"STEP_ADVANCE_STEPS", 24, 1, &c.StepAdvance},
		{"WORKERS", runtime.NumCPU(), 1, &c.Workers},
	}
	for _, v := range ints {
		n, err := envInt(v.name, v.def, v.min)
		if err != nil {
			return err
		}
		*v.dst = n
	}

	r, err := parseLagRange(sharedcfg.EnvOrDefault("LAG_RANGE_STEPS", "0,72"))
	if err != nil {
		return err
	}
	c.LagRange = r
	return nil
}

func (c *Config) loadStudyPeriod() error {
	var err error
	if c.StudyStart, err = envTime("STUDY_START"); err != nil {
		return err
	}
	if c.StudyEnd, err = envTime("STUDY_END"); err != nil {
		return err
	}
	if !c.StudyStart.IsZero() && !c.StudyEnd.IsZero() && !c.StudyEnd.After(c.StudyStart) {
		return fmt.Errorf("%w: STUDY_END must be after STUDY_START", domain.ErrConfig)
	}
	return nil
}

func (c *Config) loadModel() error {
	orders, err := model.ParseOrders(sharedcfg.EnvOrDefault("MODEL_ORDERS", "2,0,1,0,0,0,0"))
	if err != nil {
		return fmt.Errorf("invalid MODEL_ORDERS: %w", err)
	}
	c.Orders = orders

	c.Model = model.DefaultSettings
	if c.Model.MaxIterations, err = envInt("MODEL_MAX_ITERATIONS", c.Model.MaxIterations, 1); err != nil {
		return err
	}
	if c.Model.Tolerance, err = envFloat("MODEL_TOLERANCE", c.Model.Tolerance); err != nil {
		return err
	}
	if c.Model.IntervalLevel, err = envFloat("INTERVAL_LEVEL", c.Model.IntervalLevel); err != nil {
		return err
	}
	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("invalid model settings: %w", err)
	}
	if _, err := model.New(c.ModelFamily, c.Model); err != nil {
		return fmt.Errorf("invalid MODEL_FAMILY: %w", err)
	}
	return nil
}

func (c *Config) loadGaps() error {
	p := gaps.Policy{
		ShortFill: gaps.FillMethod(os.Getenv("SHORT_GAP_FILL")),
		LongFill:  gaps.LongFill(sharedcfg.EnvOrDefault("LONG_GAP_FILL_POLICY", string(gaps.LongFillNone))),
	}
	var err error
	if p.ShortMaxSteps, err = envInt("SHORT_GAP_MAX_STEPS", 3, 0); err != nil {
		return err
	}
	if p.LongMaxSteps, err = envInt("LONG_GAP_MAX_STEPS", 168, 1); err != nil {
		return err
	}
	if p.SeasonalPeriod, err = envInt("GAP_SEASONAL_PERIOD", 24, 1); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: gap settings: %w", domain.ErrConfig, err)
	}
	c.Gaps = p
	return nil
}

func (c *Config) validate() error {
	switch c.SourceKind {
	case SourceFile:
		if c.InputFile == "" {
			return fmt.Errorf("%w: INPUT_FILE is required for the file source", domain.ErrConfig)
		}
	case SourceKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("%w: KAFKA_BROKERS is required", domain.ErrConfig)
		}
		if c.KafkaSourceTopic == "" {
			return fmt.Errorf("%w: KAFKA_SOURCE_TOPIC is required", domain.ErrConfig)
		}
	case SourcePIWeb:
		if c.PIWebURL == "" {
			return fmt.Errorf("%w: PIWEB_URL is required for the piweb source", domain.ErrConfig)
		}
		if c.Catalog == nil {
			return fmt.Errorf("%w: CATALOG_FILE is required for the piweb source", domain.ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown SOURCE_KIND %q", domain.ErrConfig, c.SourceKind)
	}
	if c.KafkaSinkEnabled && c.KafkaSinkTopic == "" {
		return fmt.Errorf("%w: KAFKA_SINK_ENABLED is true but KAFKA_SINK_TOPIC is not set", domain.ErrConfig)
	}
	switch c.Mode {
	case domain.ModeRolling, domain.ModeExpanding:
	default:
		return fmt.Errorf("%w: unknown ROLLING_MODE %q", domain.ErrConfig, c.Mode)
	}
	if c.Target == "" {
		return fmt.Errorf("%w: TARGET_VARIABLE is required", domain.ErrConfig)
	}
	return nil
}

func wrap(err error) error {
	return fmt.Errorf("%w: %w", domain.ErrConfig, err)
}

func envInt(name string, def, minimum int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < minimum {
		return 0, fmt.Errorf("%w: invalid %s: must be an integer >= %d", domain.ErrConfig, name, minimum)
	}
	return n, nil
}

func envFloat(name string, def float64) (float64, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || !domain.IsFinite(v) {
		return 0, fmt.Errorf("%w: invalid %s: must be a number", domain.ErrConfig, name)
	}
	return v, nil
}

func envOptionalFloat(name string) (*float64, error) {
	if os.Getenv(name) == "" {
		return nil, nil
	}
	v, err := envFloat(name, 0)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func envDuration(name string, def time.Duration, allowZero bool) (time.Duration, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("%w: invalid %s: must be a positive duration", domain.ErrConfig, name)
	}
	return d, nil
}

func envBool(name string, def bool) (bool, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("%w: invalid %s: must be true or false", domain.ErrConfig, name)
	}
	return b, nil
}

func envTime(name string) (time.Time, error) {
	s := os.Getenv(name)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid %s: must be RFC3339", domain.ErrConfig, name)
	}
	return t.UTC(), nil
}

func parseLagRange(s string) (lag.Range, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return lag.Range{}, fmt.Errorf("%w: invalid LAG_RANGE_STEPS %q: want \"min,max\"", domain.ErrConfig, s)
	}
	lo, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	hi, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return lag.Range{}, fmt.Errorf("%w: invalid LAG_RANGE_STEPS %q", domain.ErrConfig, s)
	}
	r := lag.Range{Min: lo, Max: hi}
	if err := r.Validate(); err != nil {
		return lag.Range{}, fmt.Errorf("invalid LAG_RANGE_STEPS: %w", err)
	}
	return r, nil
}
