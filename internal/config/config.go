package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	HttpServerPort uint16 `env:"HTTP_SERVER_PORT" envDefault:"8090" validate:"min=1000,max=65535"`

	// memory is the reference backend; buntdb/postgres keep history around.
	StoreBackend string `env:"STORE_BACKEND" envDefault:"memory" validate:"oneof=memory buntdb postgres"`
	BuntDBPath   string `env:"BUNTDB_PATH"   envDefault:"chatrelay.db"`

	PostgresHost     string `env:"POSTGRES_HOST"     envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT"     envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER"     envDefault:"chat_user"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"chat_password"`
	PostgresDb       string `env:"POSTGRES_DB"       envDefault:"chat_db"`

	// Cross-instance fan-out over redis pub/sub. Off by default: a single
	// relay does not need it.
	RedisFanout bool   `env:"REDIS_FANOUT" envDefault:"false"`
	RedisHost   string `env:"REDIS_HOST"   envDefault:"localhost"`
	RedisPort   uint16 `env:"REDIS_PORT"   envDefault:"6379" validate:"min=1000,max=65535"`

	DefaultRoom  string `env:"DEFAULT_ROOM"  envDefault:"general" validate:"required"`
	HistoryLimit int    `env:"HISTORY_LIMIT" envDefault:"50"      validate:"min=1,max=500"`
}

func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	err := godotenv.Load(".env")
	if err != nil {
		zap.L().Debug(".env file not found", zap.Error(err))
	}

	cfg := &Config{}
	// Parse config from environment variables
	if err = env.Parse(cfg); err != nil {
		zap.L().Error("config_load_failed", zap.Error(err))
		return nil, err
	}

	// Validate the config
	validate := validator.New()
	err = validate.Struct(cfg)
	if err != nil {
		zap.L().Error("config_validation_failed", zap.Error(err))
		return nil, err
	}
	return cfg, nil
}
