package config

import (
	"os"

	"github.com/joho/godotenv"
)

// LoadEnv loads a .env file into the process environment. Variables already
// set are left alone, and a missing file is not an error.
func LoadEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// Secrets come from the environment so config files stay committable.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LEDGER_ACCOUNT"); v != "" {
		cfg.Ledger.Account = v
	}
	if v := os.Getenv("HISTORY_DSN"); v != "" {
		cfg.History.DSN = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
}
