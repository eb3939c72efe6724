package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice moderation service.
type Config struct {
	DiscordToken   string
	GuildID        string
	VoiceChannelID string
	MutedRoleID    string
	BannedWords    []string

	WhisperCLI       string
	WhisperModelPath string
	WhisperLanguage  string
	WhisperThreads   int
	FFmpegPath       string

	SilenceThreshold    time.Duration
	RestrictionDuration time.Duration
	NormalizeTimeout    time.Duration
	TranscribeTimeout   time.Duration
	SessionMaxLifetime  time.Duration

	TmpDir string

	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		DiscordToken:     envTrimmed("DISCORD_TOKEN"),
		GuildID:          envTrimmed("GUILD_ID"),
		VoiceChannelID:   envTrimmed("VOICE_CHANNEL_ID"),
		MutedRoleID:      envTrimmed("MUTED_ROLE_ID"),
		WhisperCLI:       envOrDefault("WHISPER_CLI", "whisper-cli"),
		WhisperModelPath: envTrimmed("WHISPER_MODEL_PATH"),
		WhisperLanguage:  envOrDefault("WHISPER_LANGUAGE", "en"),
		// 0 means "auto" (picked based on CPU count).
		WhisperThreads:      0,
		FFmpegPath:          envOrDefault("FFMPEG_PATH", "ffmpeg"),
		SilenceThreshold:    1200 * time.Millisecond,
		RestrictionDuration: 10 * time.Minute,
		NormalizeTimeout:    30 * time.Second,
		TranscribeTimeout:   60 * time.Second,
		SessionMaxLifetime:  5 * time.Minute,
		TmpDir:              envOrDefault("TMP_DIR", filepath.Join(os.TempDir(), "vc-moderation")),
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":8080"),
		ShutdownTimeout:     15 * time.Second,
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "agnello"),
	}

	cfg.BannedWords = splitList(os.Getenv("BANNED_WORDS"))

	var err error
	cfg.WhisperThreads, err = intFromEnv("WHISPER_THREADS", cfg.WhisperThreads)
	if err != nil {
		return Config{}, err
	}
	cfg.SilenceThreshold, err = durationFromEnv("SILENCE_THRESHOLD", cfg.SilenceThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.RestrictionDuration, err = durationFromEnv("RESTRICTION_DURATION", cfg.RestrictionDuration)
	if err != nil {
		return Config{}, err
	}
	cfg.NormalizeTimeout, err = durationFromEnv("NORMALIZE_TIMEOUT", cfg.NormalizeTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TranscribeTimeout, err = durationFromEnv("TRANSCRIBE_TIMEOUT", cfg.TranscribeTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionMaxLifetime, err = durationFromEnv("SESSION_MAX_LIFETIME", cfg.SessionMaxLifetime)
	if err != nil {
		return Config{}, err
	}
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}

	if cfg.DiscordToken == "" {
		return Config{}, fmt.Errorf("DISCORD_TOKEN is required")
	}
	if cfg.GuildID == "" {
		return Config{}, fmt.Errorf("GUILD_ID is required")
	}
	if cfg.VoiceChannelID == "" {
		return Config{}, fmt.Errorf("VOICE_CHANNEL_ID is required")
	}
	if cfg.MutedRoleID == "" {
		return Config{}, fmt.Errorf("MUTED_ROLE_ID is required")
	}
	if len(cfg.BannedWords) == 0 {
		return Config{}, fmt.Errorf("BANNED_WORDS must list at least one term")
	}
	if cfg.SilenceThreshold < 100*time.Millisecond {
		return Config{}, fmt.Errorf("SILENCE_THRESHOLD must be at least 100ms")
	}
	if cfg.RestrictionDuration < time.Second {
		return Config{}, fmt.Errorf("RESTRICTION_DURATION must be at least 1s")
	}
	if cfg.NormalizeTimeout <= 0 || cfg.TranscribeTimeout <= 0 {
		return Config{}, fmt.Errorf("process timeouts must be positive")
	}
	if cfg.SessionMaxLifetime < cfg.NormalizeTimeout+cfg.TranscribeTimeout {
		return Config{}, fmt.Errorf("SESSION_MAX_LIFETIME must cover the normalize and transcribe timeouts")
	}
	if cfg.WhisperThreads < 0 {
		return Config{}, fmt.Errorf("WHISPER_THREADS must be >= 0")
	}

	return cfg, nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}
