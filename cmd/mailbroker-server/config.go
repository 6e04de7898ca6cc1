package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/EternisAI/mailbroker/internal/api/http"
	"github.com/EternisAI/mailbroker/internal/broadcast"
	"github.com/EternisAI/mailbroker/internal/db"
	"github.com/EternisAI/mailbroker/internal/dispatch"
	"github.com/EternisAI/mailbroker/internal/engine"
	"github.com/EternisAI/mailbroker/internal/kv"
	"github.com/EternisAI/mailbroker/internal/notify"
	"github.com/EternisAI/mailbroker/internal/provider"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Log       LogConfig
	Http      http.Config
	Store     StoreConfig
	DB        db.Config
	Redis     kv.RedisConfig
	Provider  provider.Config
	Engine    engine.Config
	Telegram  notify.TelegramConfig
	Dispatch  dispatch.Config
	Broadcast broadcast.Config
}

type StoreConfig struct {
	// Backend is one of postgres, redis or memory.
	Backend        string `mapstructure:"backend"`
	ConnectRetries int    `mapstructure:"connect_retries"`
}

var config Config

// redacted hides credentials when the config is dumped at DEBUG level.
func (c Config) redacted() Config {
	const mask = "***"
	if c.Http.AdminAPIKey != "" {
		c.Http.AdminAPIKey = mask
	}
	if c.Http.WebhookSecret != "" {
		c.Http.WebhookSecret = mask
	}
	if c.DB.Url != "" {
		c.DB.Url = mask
	}
	if c.Redis.Password != "" {
		c.Redis.Password = mask
	}
	if c.Provider.ClientKey != "" {
		c.Provider.ClientKey = mask
	}
	if c.Telegram.Token != "" {
		c.Telegram.Token = mask
	}
	return c
}

func InitConfig() {
	var err error

	_ = godotenv.Load()

	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/mailbroker-server")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("telegram.token", "TELEGRAM_TOKEN")
	_ = viper.BindEnv("provider.client_key", "PROVIDER_CLIENT_KEY")
	_ = viper.BindEnv("db.url", "DB_URL")

	if err := viper.ReadInConfig(); err != nil {
		panic(err)
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		panic(err)
	}

	initLogger(config.Log.Level)

	if strings.ToUpper(config.Log.Level) == LOG_LEVEL_DEBUG {
		configJSON, err := json.MarshalIndent(config.redacted(), "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
}
