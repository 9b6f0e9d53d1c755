package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/primex-melvin/ppdo-next-sub004/pkg/observability"
	"github.com/primex-melvin/ppdo-next-sub004/pkg/search"
)

// LoadRankingConfig reads ranking constants from a YAML file. Keys missing
// from the file keep their default values; unknown keys are rejected.
//
//	primary_weight: 3
//	secondary_weight: 1
//	recency_half_life: 2160h
//	status_multipliers:
//	  archived: 0.3
func LoadRankingConfig(path string) (search.RankingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return search.RankingConfig{}, fmt.Errorf("failed to read ranking config: %w", err)
	}
	return ParseRankingConfig(data)
}

// ParseRankingConfig decodes and validates YAML ranking constants over the
// defaults.
func ParseRankingConfig(data []byte) (search.RankingConfig, error) {
	cfg := search.DefaultRankingConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return search.RankingConfig{}, fmt.Errorf("failed to parse ranking config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return search.RankingConfig{}, err
	}
	return cfg, nil
}

// reloadRankingConfig installs the constants in path into ranker and reports
// whether it did. An empty file is skipped: writers truncate before writing,
// and the defaults an empty file decodes to must not replace live constants.
func reloadRankingConfig(path string, ranker *search.Ranker, logger *observability.Logger) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.WithError(err).Warn("Failed to read ranking config")
		return false
	}
	if len(bytes.TrimSpace(data)) == 0 {
		logger.Debug("Skipping empty ranking config")
		return false
	}
	cfg, err := ParseRankingConfig(data)
	if err != nil {
		logger.WithError(err).Warn("Ignoring invalid ranking config")
		return false
	}
	if err := ranker.SetConfig(cfg); err != nil {
		logger.WithError(err).Warn("Ranker rejected ranking config")
		return false
	}
	logger.Info("Ranking config reloaded")
	return true
}

// WatchRankingConfig reloads path into ranker whenever the file is written
// or replaced, until ctx is cancelled. A file that is empty or fails to load
// is logged and the ranker keeps its current constants.
func WatchRankingConfig(ctx context.Context, path string, ranker *search.Ranker, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NopLogger()
	}
	logger = logger.WithField("ranking_config", path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors and config maps replace the file rather
	// than writing it in place.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch ranking config: %w", err)
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			reloadRankingConfig(path, ranker, logger)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("Ranking config watcher error")
		}
	}
}
