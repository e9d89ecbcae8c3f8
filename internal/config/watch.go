package config

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Reloadable holds the settings that can change without a restart.
type Reloadable struct {
	PollInterval   time.Duration
	SearchDebounce time.Duration
}

// Reloadable extracts the hot-reloadable settings.
func (c *Config) Reloadable() Reloadable {
	return Reloadable{
		PollInterval:   c.PollInterval(),
		SearchDebounce: c.SearchDebounce(),
	}
}

// Watch polls path for modifications and calls onUpdate whenever the
// reloadable settings differ from the last applied ones. The file is not
// loaded up front; current is the config already in use.
func Watch(ctx context.Context, path string, current *Config, interval time.Duration, logger zerolog.Logger, onUpdate func(Reloadable)) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	lastMod := info.ModTime()
	applied := current.Reloadable()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := os.Stat(path)
				if err != nil || !info.ModTime().After(lastMod) {
					continue
				}
				lastMod = info.ModTime()

				cfg, err := Load(path)
				if err != nil {
					logger.Warn().Err(err).Str("path", path).Msg("config reload failed; keeping previous settings")
					continue
				}
				next := cfg.Reloadable()
				if next == applied {
					continue
				}
				applied = next
				logger.Info().
					Dur("poll_interval", next.PollInterval).
					Dur("search_debounce", next.SearchDebounce).
					Msg("config reloaded")
				if onUpdate != nil {
					onUpdate(next)
				}
			}
		}
	}()

	return nil
}
