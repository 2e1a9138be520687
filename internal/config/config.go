package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/opsxjacky/cdar-rebalance/pkg/types"
	"gopkg.in/yaml.v3"
)

// 默认参数
const (
	DefaultPeriod         = 30
	DefaultLookback       = 1008
	DefaultInitialCapital = 100000
	DefaultDataDir        = "data/sample"
	DefaultOutputPath     = "output"
	DefaultAddr           = ":8080"
	DefaultMaxSamples     = 20000
)

// Config 配置文件结构
type Config struct {
	Backtest  BacktestSection  `yaml:"backtest"`
	Assets    []AssetConfig    `yaml:"assets"`
	Optimizer OptimizerSection `yaml:"optimizer"`
	Costs     CostsSection     `yaml:"costs"`
	Output    OutputSection    `yaml:"output"`
	Analysis  AnalysisSection  `yaml:"analysis"`
	Server    ServerSection    `yaml:"server"`
}

// BacktestSection 回测配置
type BacktestSection struct {
	StartDate      string  `yaml:"start_date"`
	EndDate        string  `yaml:"end_date"`
	InitialCapital float64 `yaml:"initial_capital"`
	Period         int     `yaml:"period"`
	// Lookback 固定回看行数, 负数表示使用全部历史
	Lookback   int    `yaml:"lookback"`
	YearFreq   int    `yaml:"year_freq"`
	Sequence   string `yaml:"sequence"`
	DataSource string `yaml:"data_source"`
	DataDir    string `yaml:"data_dir"`
	PricesFile string `yaml:"prices_file"`
}

// AssetConfig 资产配置
type AssetConfig struct {
	Symbol string `yaml:"symbol"`
	Name   string `yaml:"name"`
}

// OptimizerSection 权重优化配置
type OptimizerSection struct {
	Type          string             `yaml:"type"`
	Samples       int                `yaml:"samples"`
	Alpha         float64            `yaml:"alpha"`
	RiskFree      float64            `yaml:"risk_free"`
	Seed          int64              `yaml:"seed"`
	TargetWeights map[string]float64 `yaml:"target_weights"`
}

// CostsSection 成本配置
type CostsSection struct {
	CommissionRate float64 `yaml:"commission_rate"`
	MinCommission  float64 `yaml:"min_commission"`
	SlippageRate   float64 `yaml:"slippage_rate"`
	TaxRate        float64 `yaml:"tax_rate"`
}

// OutputSection 输出配置
type OutputSection struct {
	Path       string `yaml:"path"`
	Trajectory bool   `yaml:"trajectory"`
	Summary    bool   `yaml:"summary"`
}

// AnalysisSection 技术面筛选配置
type AnalysisSection struct {
	Days          int     `yaml:"days"`
	TargetGain    float64 `yaml:"target_gain"`
	MinRewardRisk float64 `yaml:"min_reward_risk"`
}

// ServerSection HTTP服务配置
type ServerSection struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	DatabaseURL    string   `yaml:"database_url"`
	MaxSamples     int      `yaml:"max_samples"` // 请求中 optimizer.samples 的上限
}

// Load 读取配置, 填充默认值并校验
func Load(path string) (*Config, error) {
	c, err := LoadUnchecked(path)
	if err != nil {
		return nil, err
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadUnchecked 只解析, 不填默认值也不校验
func LoadUnchecked(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &c, nil
}

// LoadEnv 加载 .env 中的凭证, 文件不存在时忽略
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// ApplyDefaults 为零值字段填默认值
func (c *Config) ApplyDefaults() {
	if c.Backtest.InitialCapital == 0 {
		c.Backtest.InitialCapital = DefaultInitialCapital
	}
	if c.Backtest.Period == 0 {
		c.Backtest.Period = DefaultPeriod
	}
	if c.Backtest.Lookback == 0 {
		c.Backtest.Lookback = DefaultLookback
	}
	if c.Backtest.YearFreq == 0 {
		c.Backtest.YearFreq = 252
	}
	if c.Backtest.Sequence == "" {
		c.Backtest.Sequence = "sell_first"
	}
	if c.Backtest.DataSource == "" {
		c.Backtest.DataSource = "csv"
	}

	def := types.DefaultOptimizerConfig()
	if c.Optimizer.Type == "" {
		c.Optimizer.Type = def.Type
	}
	if c.Optimizer.Samples == 0 {
		c.Optimizer.Samples = def.Samples
	}
	if c.Optimizer.Alpha == 0 {
		c.Optimizer.Alpha = def.Alpha
	}
	if c.Optimizer.Seed == 0 {
		c.Optimizer.Seed = def.Seed
	}

	if c.Analysis.Days == 0 {
		c.Analysis.Days = 14
	}
	if c.Analysis.TargetGain == 0 {
		c.Analysis.TargetGain = 0.03
	}
	if c.Analysis.MinRewardRisk == 0 {
		c.Analysis.MinRewardRisk = 2
	}

	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.MaxSamples == 0 {
		c.Server.MaxSamples = DefaultMaxSamples
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if len(c.Assets) == 0 {
		return errors.New("assets: at least one symbol is required")
	}
	seen := make(map[string]bool, len(c.Assets))
	for i, a := range c.Assets {
		if a.Symbol == "" {
			return fmt.Errorf("assets[%d].symbol is required", i)
		}
		if seen[a.Symbol] {
			return fmt.Errorf("assets: duplicate symbol %s", a.Symbol)
		}
		seen[a.Symbol] = true
	}
	if c.Backtest.Period <= 0 {
		return errors.New("backtest.period must be positive")
	}
	if c.Backtest.InitialCapital <= 0 {
		return errors.New("backtest.initial_capital must be positive")
	}
	if _, err := c.dates(); err != nil {
		return err
	}
	switch c.Backtest.Sequence {
	case "sell_first", "target_ascending":
	default:
		return fmt.Errorf("backtest.sequence %q unknown", c.Backtest.Sequence)
	}
	switch c.Backtest.DataSource {
	case "csv", "alpaca":
	default:
		return fmt.Errorf("backtest.data_source %q unknown", c.Backtest.DataSource)
	}
	if c.Optimizer.Alpha <= 0 || c.Optimizer.Alpha >= 1 {
		return errors.New("optimizer.alpha must be in (0, 1)")
	}
	if c.Optimizer.Samples < 0 {
		return errors.New("optimizer.samples must not be negative")
	}
	if c.Server.MaxSamples < 0 {
		return errors.New("server.max_samples must not be negative")
	}
	if c.Optimizer.Type == "fixed" && len(c.Optimizer.TargetWeights) == 0 {
		return errors.New("optimizer.target_weights is required for fixed weights")
	}
	if c.Costs.CommissionRate < 0 || c.Costs.SlippageRate < 0 || c.Costs.TaxRate < 0 || c.Costs.MinCommission < 0 {
		return errors.New("costs must not be negative")
	}
	return nil
}

type dateRange struct {
	start, end time.Time
}

func (c *Config) dates() (dateRange, error) {
	var r dateRange
	var err error
	if c.Backtest.StartDate != "" {
		if r.start, err = time.Parse("2006-01-02", c.Backtest.StartDate); err != nil {
			return r, fmt.Errorf("invalid start_date: %w", err)
		}
	}
	if c.Backtest.EndDate != "" {
		if r.end, err = time.Parse("2006-01-02", c.Backtest.EndDate); err != nil {
			return r, fmt.Errorf("invalid end_date: %w", err)
		}
	}
	if !r.start.IsZero() && !r.end.IsZero() && r.end.Before(r.start) {
		return r, errors.New("end_date is before start_date")
	}
	return r, nil
}

// Symbols 资产代码列表
func (c *Config) Symbols() []string {
	symbols := make([]string, len(c.Assets))
	for i, asset := range c.Assets {
		symbols[i] = asset.Symbol
	}
	return symbols
}

// ToBacktestConfig 转换为回测配置
func (c *Config) ToBacktestConfig() (types.BacktestConfig, error) {
	r, err := c.dates()
	if err != nil {
		return types.BacktestConfig{}, err
	}
	return types.BacktestConfig{
		StartDate:      r.start,
		EndDate:        r.end,
		InitialCapital: c.Backtest.InitialCapital,
		Symbols:        c.Symbols(),
		Period:         c.Backtest.Period,
		Lookback:       c.Backtest.Lookback,
		YearFreq:       c.Backtest.YearFreq,
	}, nil
}

// ToCostConfig 转换为成本配置
func (c *Config) ToCostConfig() types.CostConfig {
	return types.CostConfig{
		CommissionRate: c.Costs.CommissionRate,
		MinCommission:  c.Costs.MinCommission,
		SlippageRate:   c.Costs.SlippageRate,
		TaxRate:        c.Costs.TaxRate,
	}
}

// ToOptimizerConfig 转换为优化器配置
func (c *Config) ToOptimizerConfig() types.OptimizerConfig {
	return types.OptimizerConfig{
		Type:          c.Optimizer.Type,
		Samples:       c.Optimizer.Samples,
		Alpha:         c.Optimizer.Alpha,
		RiskFree:      c.Optimizer.RiskFree,
		Seed:          c.Optimizer.Seed,
		TargetWeights: c.Optimizer.TargetWeights,
	}
}

// GetDataDir 获取数据目录
func (c *Config) GetDataDir() string {
	if c.Backtest.DataDir != "" {
		return c.Backtest.DataDir
	}
	return DefaultDataDir
}

// GetOutputPath 获取输出路径
func (c *Config) GetOutputPath() string {
	if c.Output.Path != "" {
		return c.Output.Path
	}
	return DefaultOutputPath
}

// GetDatabaseURL 数据库连接串, 环境变量 DATABASE_URL 优先
func (c *Config) GetDatabaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	return c.Server.DatabaseURL
}
