package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Server     ServerConfig     `mapstructure:"server"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Chains     []ChainConfig    `mapstructure:"chains"`
	Points     PointsConfig     `mapstructure:"points"`
	Yield      YieldConfig      `mapstructure:"yield"`
	Strategies []StrategyConfig `mapstructure:"strategies"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	Path            string `mapstructure:"path"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool   `mapstructure:"auto_migrate"`
}

func (d *DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		d.User, d.Password, d.Host, d.Port, d.DBName)
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	LockKey  string `mapstructure:"lock_key"`
	// LockTTL 秒
	LockTTL int `mapstructure:"lock_ttl"`
}

type ChainConfig struct {
	ID                 string `mapstructure:"id"`
	Name               string `mapstructure:"name"`
	RPCURL             string `mapstructure:"rpc_url"`
	ChainID            uint64 `mapstructure:"chain_id"`
	VaultAddress       string `mapstructure:"vault_address"`
	StartBlock         int64  `mapstructure:"start_block"`
	ConfirmationBlocks int    `mapstructure:"confirmation_blocks"`
	PullInterval       int    `mapstructure:"pull_interval"`
	BatchSize          int    `mapstructure:"batch_size"`
	MaxRetries         int    `mapstructure:"max_retries"`
	Enabled            bool   `mapstructure:"enabled"`
}

type PointsConfig struct {
	// BaseRate 每单位原生币对应的积分
	BaseRate          float64 `mapstructure:"base_rate"`
	DepositMultiplier float64 `mapstructure:"deposit_multiplier"`
	DepositActivity   string  `mapstructure:"deposit_activity"`
}

type YieldConfig struct {
	Enabled  bool    `mapstructure:"enabled"`
	Cron     string  `mapstructure:"cron"`
	NoiseMin float64 `mapstructure:"noise_min"`
	NoiseMax float64 `mapstructure:"noise_max"`
}

// 收益噪声系数允许的范围
const (
	NoiseFloor   = 0.98
	NoiseCeiling = 1.02
)

type StrategyConfig struct {
	Name               string  `mapstructure:"name"`
	ProtocolType       string  `mapstructure:"protocol_type"`
	BaseApyBasisPoints int64   `mapstructure:"base_apy_bps"`
	PointsMultiplier   float64 `mapstructure:"points_multiplier"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15)
	v.SetDefault("server.write_timeout", 15)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.lock_key", "points:yield:accrual:lock")
	v.SetDefault("redis.lock_ttl", 900)

	v.SetDefault("points.base_rate", 1000)
	v.SetDefault("points.deposit_multiplier", 1)
	v.SetDefault("points.deposit_activity", "deposit")

	v.SetDefault("yield.enabled", true)
	v.SetDefault("yield.cron", "0 0 * * * *")
	v.SetDefault("yield.noise_min", 0.98)
	v.SetDefault("yield.noise_max", 1.02)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("POINTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate 校验积分与收益相关的配置
func (c *Config) Validate() error {
	if c.Points.BaseRate <= 0 {
		return fmt.Errorf("points.base_rate must be positive, got %v", c.Points.BaseRate)
	}
	if c.Points.DepositMultiplier <= 0 {
		return fmt.Errorf("points.deposit_multiplier must be positive, got %v", c.Points.DepositMultiplier)
	}
	if c.Yield.NoiseMin < NoiseFloor || c.Yield.NoiseMax > NoiseCeiling || c.Yield.NoiseMin > c.Yield.NoiseMax {
		return fmt.Errorf("yield noise range invalid: [%v, %v] must lie within [%v, %v]",
			c.Yield.NoiseMin, c.Yield.NoiseMax, NoiseFloor, NoiseCeiling)
	}
	for _, s := range c.Strategies {
		if s.Name == "" {
			return fmt.Errorf("strategy name is required")
		}
		if s.BaseApyBasisPoints < 0 {
			return fmt.Errorf("strategy %s: base_apy_bps must not be negative", s.Name)
		}
	}
	return nil
}

func (c *Config) GetChainConfig(chainID string) (*ChainConfig, error) {
	for i := range c.Chains {
		if c.Chains[i].ID == chainID {
			return &c.Chains[i], nil
		}
	}
	return nil, fmt.Errorf("chain config not found: %s", chainID)
}

func (c *Config) GetEnabledChains() []ChainConfig {
	var enabled []ChainConfig
	for _, chain := range c.Chains {
		if chain.Enabled {
			enabled = append(enabled, chain)
		}
	}
	return enabled
}
