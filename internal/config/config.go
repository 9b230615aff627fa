package config

import (
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
		Env  string `yaml:"env"`
	} `yaml:"server"`

	Database struct {
		DSN string `yaml:"url"`
	} `yaml:"database"`

	Payments struct {
		// Границы суммы одного платежа (в валюте платежа)
		MinAmount string `yaml:"min_amount"`
		MaxAmount string `yaml:"max_amount"`
		// Таймаут исходящих вызовов провайдеров, секунды
		GatewayTimeout int `yaml:"gateway_timeout"`

		Stripe struct {
			SecretKey     string `yaml:"secret_key"`
			WebhookSecret string `yaml:"webhook_secret"`
			// Прайсы подписочных планов: plan_id -> stripe price id
			PlanPrices map[string]string `yaml:"plan_prices"`
		} `yaml:"stripe"`

		YooKassa struct {
			ShopID        string `yaml:"shop_id"`
			SecretKey     string `yaml:"secret_key"`
			WebhookSecret string `yaml:"webhook_secret"`
			APIURL        string `yaml:"api_url"`
		} `yaml:"yookassa"`
	} `yaml:"payments"`

	Workers struct {
		// Интервал reconciliation poll'а, секунды
		ReconcileInterval int `yaml:"reconcile_interval"`
		// Платеж считается зависшим после этого возраста, минуты
		ReconcileAfter int `yaml:"reconcile_after"`
	} `yaml:"workers"`

	Email struct {
		SMTPHost     string `yaml:"smtp_host"`
		SMTPPort     int    `yaml:"smtp_port"`
		SMTPUsername string `yaml:"smtp_user"`
		SMTPPassword string `yaml:"smtp_password"`
		FromEmail    string `yaml:"from_email"`
		FromName     string `yaml:"from_name"`
	} `yaml:"email"`

	JWT struct {
		Secret string `yaml:"secret"`
		TTL    int    `yaml:"ttl"`
	} `yaml:"jwt"`
}

var AppConfig *Config

func LoadConfig() {
	var cfg Config

	dbURL := os.Getenv("DATABASE_URL")
	serverEnv := os.Getenv("SERVER_ENV")
	portStr := os.Getenv("SERVER_PORT")
	jwtSecret := os.Getenv("JWT_SECRET")

	if dbURL == "" {
		log.Println("Загрузка из config.yaml (режим НЕ-тест)")

		configPath := os.Getenv("CONFIG_PATH")
		if configPath == "" {
			configPath = "config/config.yaml"
		}

		f, err := os.Open(configPath)
		if err != nil {
			log.Fatalf("Failed to open config file at %s: %v", configPath, err)
		}
		defer f.Close()

		decoder := yaml.NewDecoder(f)
		if err := decoder.Decode(&cfg); err != nil {
			log.Fatalf("Failed to parse config file at %s: %v", configPath, err)
		}

		applyDefaults(&cfg)
		AppConfig = &cfg
		return
	}

	log.Println("✅ Загрузка конфигурации из ПЕРЕМЕННЫХ ОКРУЖЕНИЯ (режим теста)")

	cfg.Database.DSN = dbURL
	cfg.Server.Env = serverEnv
	cfg.Server.Port, _ = strconv.Atoi(portStr)
	cfg.JWT.Secret = jwtSecret
	cfg.JWT.TTL = 60

	cfg.Payments.Stripe.SecretKey = os.Getenv("STRIPE_SECRET_KEY")
	cfg.Payments.Stripe.WebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")
	cfg.Payments.YooKassa.ShopID = os.Getenv("YOOKASSA_SHOP_ID")
	cfg.Payments.YooKassa.SecretKey = os.Getenv("YOOKASSA_SECRET_KEY")
	cfg.Payments.YooKassa.WebhookSecret = os.Getenv("YOOKASSA_WEBHOOK_SECRET")

	cfg.Email.SMTPHost = "smtp.test.com"
	cfg.Email.SMTPPort = 587
	cfg.Email.FromEmail = "payments@gongbu.test"
	cfg.Email.FromName = "Gongbu Payments"

	applyDefaults(&cfg)
	AppConfig = &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Payments.MinAmount == "" {
		cfg.Payments.MinAmount = "0.5"
	}
	if cfg.Payments.MaxAmount == "" {
		cfg.Payments.MaxAmount = "10000"
	}
	if cfg.Payments.GatewayTimeout == 0 {
		cfg.Payments.GatewayTimeout = 30
	}
	if cfg.Payments.YooKassa.APIURL == "" {
		cfg.Payments.YooKassa.APIURL = "https://api.yookassa.ru/v3"
	}
	if cfg.Workers.ReconcileInterval == 0 {
		cfg.Workers.ReconcileInterval = 300
	}
	if cfg.Workers.ReconcileAfter == 0 {
		cfg.Workers.ReconcileAfter = 15
	}
}

func GetConfig() *Config {
	if AppConfig == nil {
		LoadConfig()
	}
	return AppConfig
}
