package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override file values.
const (
	EnvBotToken    = "BOT_TOKEN"
	EnvAdminID     = "ADMIN_ID"
	EnvGroupID     = "GROUP_ID"
	EnvDatabaseURL = "DATABASE_URL"
	EnvTimezone    = "BOT_TIMEZONE"
)

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// applyEnv overlays environment values on cfg.
func applyEnv(cfg *Config, getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(EnvBotToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvAdminID)); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvAdminID, err)
		}
		cfg.Telegram.AdminID = id
	}
	if v := strings.TrimSpace(getenv(EnvGroupID)); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvGroupID, err)
		}
		cfg.Telegram.GroupID = id
	}
	if v := strings.TrimSpace(getenv(EnvDatabaseURL)); v != "" {
		cfg.Storage.DSN = v
		if cfg.Storage.Driver == "" {
			cfg.Storage.Driver = "postgres"
		}
	}
	if v := strings.TrimSpace(getenv(EnvTimezone)); v != "" {
		cfg.Scheduler.Timezone = v
	}
	return nil
}
