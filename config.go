package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ============================================================================
// Configuration
// ============================================================================

const (
	EnvDiscordToken      = "DISCORD_TOKEN"
	EnvGuildID           = "GUILD_ID"
	EnvSilent            = "SILENT"
	EnvDeepseekAPIKey    = "DEEPSEEK_API_KEY"
	EnvOpenAIAPIKey      = "OPENAI_API_KEY"
	EnvYoutubeCookies    = "YOUTUBE_COOKIES_FILE"
	EnvAudioCacheDir     = "AUDIO_CACHE_DIR"
	EnvBlindtestDuration = "BLINDTEST_ROUND_SECONDS"

	MsgConfigMissingToken     = "DISCORD_TOKEN is not set in .env file"
	MsgConfigInvalidGuildID   = "invalid GUILD_ID: must be a valid Snowflake"
	MsgConfigInvalidDuration  = "BLINDTEST_ROUND_SECONDS must be between %d and %d (got %d)"
	MsgConfigMissingCookies   = "YOUTUBE_COOKIES_FILE points to a missing file: %s"
	MsgConfigNoProviderKey    = "No AI provider key configured (set DEEPSEEK_API_KEY or OPENAI_API_KEY); /blindtest prepare will be unavailable"

	// Bounds shared by config validation and the prepare command.
	RoundDurationMin     = 10
	RoundDurationMax     = 300
	RoundDurationDefault = 30
	QuestionCountMin     = 1
	QuestionCountMax     = 50
)

type Config struct {
	Token               string
	GuildID             string
	DatabasePath        string
	DeepseekAPIKey      string
	OpenAIAPIKey        string
	YoutubeCookiesFile  string
	AudioCacheDir       string
	RoundDurationSecs   int
	Silent              bool
}

var GlobalConfig *Config

// LoadConfig initializes the configuration from environment variables.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	dbPath := filepath.Join(".", GetProjectName()+".db")

	silent, _ := strconv.ParseBool(os.Getenv(EnvSilent))

	cacheDir := os.Getenv(EnvAudioCacheDir)
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "graditunes")
	}

	cfg := &Config{
		Token:              os.Getenv(EnvDiscordToken),
		GuildID:            os.Getenv(EnvGuildID),
		DatabasePath:       dbPath,
		DeepseekAPIKey:     os.Getenv(EnvDeepseekAPIKey),
		OpenAIAPIKey:       os.Getenv(EnvOpenAIAPIKey),
		YoutubeCookiesFile: os.Getenv(EnvYoutubeCookies),
		AudioCacheDir:      cacheDir,
		RoundDurationSecs:  RoundDurationDefault,
		Silent:             silent,
	}

	if raw := os.Getenv(EnvBlindtestDuration); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil {
			cfg.RoundDurationSecs = secs
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.DeepseekAPIKey == "" && cfg.OpenAIAPIKey == "" {
		LogWarn(MsgConfigNoProviderKey)
	}

	if cfg.Silent {
		SetSilentMode(true)
	}

	GlobalConfig = cfg
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf(MsgConfigMissingToken)
	}
	if c.GuildID != "" && (len(c.GuildID) < 17 || len(c.GuildID) > 20) {
		return fmt.Errorf(MsgConfigInvalidGuildID)
	}
	if c.RoundDurationSecs < RoundDurationMin || c.RoundDurationSecs > RoundDurationMax {
		return fmt.Errorf(MsgConfigInvalidDuration, RoundDurationMin, RoundDurationMax, c.RoundDurationSecs)
	}
	if c.YoutubeCookiesFile != "" {
		if _, err := os.Stat(c.YoutubeCookiesFile); err != nil {
			return fmt.Errorf(MsgConfigMissingCookies, c.YoutubeCookiesFile)
		}
	}
	return nil
}

func GetProjectName() string {
	exePath, err := os.Executable()
	projectName := "graditunes"
	if err == nil {
		projectName = filepath.Base(exePath)
		projectName = strings.TrimSuffix(projectName, ".exe")

		if projectName == "main" || strings.HasPrefix(projectName, "go_build_") {
			if modData, err := os.ReadFile("go.mod"); err == nil {
				lines := strings.Split(string(modData), "\n")
				if len(lines) > 0 && strings.HasPrefix(lines[0], "module ") {
					parts := strings.Split(lines[0], "/")
					projectName = strings.TrimSpace(parts[len(parts)-1])
				}
			}
		}
	}
	return projectName
}
