// Package config loads the runtime settings from .env and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	ProcessName string
	ModuleName  string
	Channel     string
	Device      string
	PID         int
	MemMapPath  string
	OffsetsPath string

	ListenAddr   string
	WorkDir      string
	LogLevel     string
	LogFile      string
	WebhookURL   string
	PasswordHash string

	TickInterval   time.Duration
	AttachRetry    time.Duration
	HistoryEnabled bool
}

var defaults = map[string]any{
	"PROCESS_NAME":     "Liar's Bar.exe",
	"MODULE_NAME":      "UnityPlayer.dll",
	"CHANNEL":          "procvm",
	"DEVICE":           "",
	"PID":              0,
	"MMAP_PATH":        "mmap.txt",
	"OFFSETS_PATH":     "",
	"LISTEN_ADDR":      "127.0.0.1:5300",
	"WORK_DIR":         "data",
	"LOG_LEVEL":        "info",
	"LOG_FILE":         "",
	"WEBHOOK_URL":      "",
	"PASSWORD_HASH":    "",
	"TICK_INTERVAL_MS": 1000,
	"ATTACH_RETRY_SEC": 15,
	"HISTORY_ENABLED":  true,
}

// Load reads path (a .env file) into the global viper instance, creating
// it with defaults when missing. Environment variables win over the file.
func Load(path string) (*Config, error) {
	for k, v := range defaults {
		viper.SetDefault(k, v)
	}
	viper.SetConfigFile(path)
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			if err := viper.SafeWriteConfigAs(path); err != nil {
				log.Warn().Err(err).Str("path", path).Msg("unable to create default config file")
			} else {
				log.Info().Str("path", path).Msg("created default config file")
			}
		} else {
			log.Warn().Err(err).Str("path", path).Msg("error reading config file, using defaults and environment")
		}
	}
	return FromViper(viper.GetViper())
}

// FromViper builds a Config from an already loaded viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	c := &Config{
		ProcessName:    v.GetString("PROCESS_NAME"),
		ModuleName:     v.GetString("MODULE_NAME"),
		Channel:        v.GetString("CHANNEL"),
		Device:         v.GetString("DEVICE"),
		PID:            v.GetInt("PID"),
		MemMapPath:     v.GetString("MMAP_PATH"),
		OffsetsPath:    v.GetString("OFFSETS_PATH"),
		ListenAddr:     v.GetString("LISTEN_ADDR"),
		WorkDir:        v.GetString("WORK_DIR"),
		LogLevel:       v.GetString("LOG_LEVEL"),
		LogFile:        v.GetString("LOG_FILE"),
		WebhookURL:     v.GetString("WEBHOOK_URL"),
		PasswordHash:   v.GetString("PASSWORD_HASH"),
		TickInterval:   time.Duration(v.GetInt("TICK_INTERVAL_MS")) * time.Millisecond,
		AttachRetry:    time.Duration(v.GetInt("ATTACH_RETRY_SEC")) * time.Second,
		HistoryEnabled: v.GetBool("HISTORY_ENABLED"),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	switch {
	case c.ProcessName == "":
		return fmt.Errorf("PROCESS_NAME is required")
	case c.ModuleName == "":
		return fmt.Errorf("MODULE_NAME is required")
	case c.TickInterval <= 0:
		return fmt.Errorf("TICK_INTERVAL_MS must be positive")
	case c.AttachRetry <= 0:
		return fmt.Errorf("ATTACH_RETRY_SEC must be positive")
	case c.PID < 0:
		return fmt.Errorf("PID must not be negative")
	}
	return nil
}
