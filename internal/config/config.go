package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gregtusar/assetrouter/pkg/secrets"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Rates      RatesConfig      `mapstructure:"rates"`
	Fees       FeesConfig       `mapstructure:"fees"`
	Collateral CollateralConfig `mapstructure:"collateral"`
	Routing    RoutingConfig    `mapstructure:"routing"`
	Bridge     BridgeConfig     `mapstructure:"bridge"`
	Balance    BalanceConfig    `mapstructure:"balance"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Coinbase   CoinbaseConfig   `mapstructure:"coinbase"`
	GCP        GCPConfig        `mapstructure:"gcp"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type RatesConfig struct {
	Pivot        string        `mapstructure:"pivot"`
	TTL          time.Duration `mapstructure:"ttl"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	// Sources are consulted in order: static, coinbase, coinbase_ws.
	Sources         []string          `mapstructure:"sources"`
	Static          map[string]string `mapstructure:"static"`
	SimulateJitter  float64           `mapstructure:"simulate_jitter"`
	Cache           string            `mapstructure:"cache"`
	RefreshPairs    []string          `mapstructure:"refresh_pairs"`
	RefreshInterval time.Duration     `mapstructure:"refresh_interval"`
}

type FeesConfig struct {
	ScheduleFile string `mapstructure:"schedule_file"`
}

type CollateralConfig struct {
	LTVCeiling     string `mapstructure:"ltv_ceiling"`
	LiquidationLTV string `mapstructure:"liquidation_ltv"`
}

type RoutingConfig struct {
	MaxParallel  int           `mapstructure:"max_parallel"`
	AssetTimeout time.Duration `mapstructure:"asset_timeout"`
}

type BridgeConfig struct {
	DefaultCrypto string `mapstructure:"default_crypto"`
	// Settlement is "instant" or "deferred".
	Settlement string `mapstructure:"settlement"`
}

type BalanceConfig struct {
	MaxParallel int    `mapstructure:"max_parallel"`
	AuditPath   string `mapstructure:"audit_path"`
}

type DatabaseConfig struct {
	// Driver is "memory" or "postgres".
	Driver   string `mapstructure:"driver"`
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	Fixtures string `mapstructure:"fixtures"`
}

type RedisConfig struct {
	Addrs     []string `mapstructure:"addrs"`
	Password  string   `mapstructure:"password"`
	Cluster   bool     `mapstructure:"cluster"`
	Namespace string   `mapstructure:"namespace"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type CoinbaseConfig struct {
	BaseURL           string          `mapstructure:"base_url"`
	RequestsPerSecond float64         `mapstructure:"requests_per_second"`
	AuthType          string          `mapstructure:"auth_type"`       // "none" or "jwt"
	APIKeyName        string          `mapstructure:"api_key_name"`    // organizations/{org_id}/apiKeys/{key_id}
	PrivateKeyPEM     string          `mapstructure:"private_key_pem"` // EC private key in PEM format
	WebSocket         WebSocketConfig `mapstructure:"websocket"`
}

type WebSocketConfig struct {
	URL      string        `mapstructure:"url"`
	Products []string      `mapstructure:"products"`
	MaxAge   time.Duration `mapstructure:"max_age"`
}

type GCPConfig struct {
	ProjectID       string              `mapstructure:"project_id"`
	UseSecrets      bool                `mapstructure:"use_secrets"`
	CredentialsFile string              `mapstructure:"credentials_file"`
	SecretNames     secrets.SecretNames `mapstructure:"secret_names"`
}

// SecretGetterFactory opens a secret store for the configured project.
type SecretGetterFactory func(ctx context.Context, cfg GCPConfig, logger *logrus.Logger) (secrets.Getter, func() error, error)

func Load(configPath string) (*Config, error) {
	return LoadWithSecrets(configPath, gcpSecretGetter)
}

// LoadWithSecrets is Load with an injectable secret store.
func LoadWithSecrets(configPath string, factory SecretGetterFactory) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/assetrouter")
	}

	v.SetEnvPrefix("ASSETROUTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&config)

	if config.GCP.UseSecrets && config.GCP.ProjectID != "" && factory != nil {
		ctx := context.Background()
		logger := logrus.New()
		if err := loadSecretsFromGCP(ctx, &config, factory, logger); err != nil {
			return nil, fmt.Errorf("error loading secrets from GCP: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")

	v.SetDefault("rates.pivot", "USD")
	v.SetDefault("rates.ttl", 5*time.Minute)
	v.SetDefault("rates.fetch_timeout", 5*time.Second)
	v.SetDefault("rates.sources", []string{"static"})
	v.SetDefault("rates.static", map[string]string{
		"EUR/USD":  "1.08",
		"GBP/USD":  "1.27",
		"USD/JPY":  "149.5",
		"BTC/USD":  "65000",
		"ETH/USD":  "3200",
		"USDC/USD": "1",
		"USDT/USD": "1",
		"SOL/USD":  "150",
	})
	v.SetDefault("rates.simulate_jitter", 0.0)
	v.SetDefault("rates.cache", "memory")
	v.SetDefault("rates.refresh_interval", time.Minute)

	v.SetDefault("collateral.ltv_ceiling", "0.5")
	v.SetDefault("collateral.liquidation_ltv", "0.8")

	v.SetDefault("routing.max_parallel", 8)
	v.SetDefault("routing.asset_timeout", 2*time.Second)

	v.SetDefault("bridge.default_crypto", "USDC")
	v.SetDefault("bridge.settlement", "instant")

	v.SetDefault("balance.max_parallel", 8)
	v.SetDefault("balance.audit_path", "")

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("redis.addrs", []string{"localhost:6379"})
	v.SetDefault("redis.namespace", "assetrouter:rates")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic", "assetrouter.bridges")

	v.SetDefault("coinbase.base_url", "https://api.coinbase.com")
	v.SetDefault("coinbase.requests_per_second", 10.0)
	v.SetDefault("coinbase.auth_type", "none")
	v.SetDefault("coinbase.websocket.url", "wss://ws-feed.exchange.coinbase.com")
	v.SetDefault("coinbase.websocket.max_age", time.Minute)

	v.SetDefault("gcp.use_secrets", false)
	v.SetDefault("gcp.project_id", "")

	secretNames := secrets.DefaultSecretNames()
	v.SetDefault("gcp.secret_names.coinbase_api_key_name", secretNames.CoinbaseAPIKeyName)
	v.SetDefault("gcp.secret_names.coinbase_private_key", secretNames.CoinbasePrivateKey)
	v.SetDefault("gcp.secret_names.database_url", secretNames.DatabaseURL)
	v.SetDefault("gcp.secret_names.redis_password", secretNames.RedisPassword)
}

func overrideFromEnv(config *Config) {
	if apiKeyName := os.Getenv("COINBASE_API_KEY_NAME"); apiKeyName != "" {
		config.Coinbase.APIKeyName = apiKeyName
	}
	if privateKey := os.Getenv("COINBASE_PRIVATE_KEY"); privateKey != "" {
		config.Coinbase.PrivateKeyPEM = privateKey
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		config.Redis.Password = redisPassword
	}

	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		config.GCP.ProjectID = projectID
	}
	if useSecrets := os.Getenv("GCP_USE_SECRETS"); useSecrets == "true" {
		config.GCP.UseSecrets = true
	}
}

func gcpSecretGetter(ctx context.Context, cfg GCPConfig, logger *logrus.Logger) (secrets.Getter, func() error, error) {
	sm, err := secrets.NewGCPSecretManager(ctx, cfg.ProjectID, cfg.CredentialsFile, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create secret manager: %w", err)
	}
	return sm, sm.Close, nil
}

func loadSecretsFromGCP(ctx context.Context, config *Config, factory SecretGetterFactory, logger *logrus.Logger) error {
	getter, closeFn, err := factory(ctx, config.GCP, logger)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	names := config.GCP.SecretNames

	// Only fill what the file and environment left empty.
	if config.Coinbase.APIKeyName == "" {
		config.Coinbase.APIKeyName = getter.GetSecretWithDefault(ctx, names.CoinbaseAPIKeyName, "")
	}
	if config.Coinbase.PrivateKeyPEM == "" {
		config.Coinbase.PrivateKeyPEM = getter.GetSecretWithDefault(ctx, names.CoinbasePrivateKey, "")
	}
	if config.Database.URL == "" {
		config.Database.URL = getter.GetSecretWithDefault(ctx, names.DatabaseURL, "")
	}
	if config.Redis.Password == "" {
		config.Redis.Password = getter.GetSecretWithDefault(ctx, names.RedisPassword, "")
	}

	logger.Info("Successfully loaded secrets from GCP Secret Manager")
	return nil
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}

	switch c.Bridge.Settlement {
	case "instant", "deferred":
	default:
		return fmt.Errorf("unknown bridge.settlement %q", c.Bridge.Settlement)
	}

	switch c.Rates.Cache {
	case "memory":
	case "redis":
		if len(c.Redis.Addrs) == 0 || strings.TrimSpace(c.Redis.Addrs[0]) == "" {
			return fmt.Errorf("redis.addrs is required for the redis rate cache")
		}
	default:
		return fmt.Errorf("unknown rates.cache %q", c.Rates.Cache)
	}

	if len(c.Rates.Sources) == 0 {
		return fmt.Errorf("rates.sources must name at least one source")
	}
	for _, s := range c.Rates.Sources {
		switch s {
		case "static", "coinbase", "coinbase_ws":
		default:
			return fmt.Errorf("unknown rate source %q", s)
		}
	}

	switch c.Coinbase.AuthType {
	case "", "none":
	case "jwt":
		if c.Coinbase.APIKeyName == "" || c.Coinbase.PrivateKeyPEM == "" {
			return fmt.Errorf("coinbase jwt auth needs api_key_name and private_key_pem")
		}
	default:
		return fmt.Errorf("unknown coinbase.auth_type %q", c.Coinbase.AuthType)
	}

	if c.Rates.SimulateJitter < 0 || c.Rates.SimulateJitter >= 1 {
		return fmt.Errorf("rates.simulate_jitter must be in [0,1)")
	}
	return nil
}
