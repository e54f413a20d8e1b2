package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"ratecheck/models"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

// ReadBatch reads a json5 batch file. A sibling <name>.local.<ext> file, when
// present, overrides the fields it sets.
func ReadBatch(path string) (models.RateCheckRequest, error) {
	return readLayered[models.RateCheckRequest](path)
}

// BatchLoader returns a loader that re-reads path on every call.
func BatchLoader(path string) func(context.Context) (models.RateCheckRequest, error) {
	return func(context.Context) (models.RateCheckRequest, error) {
		req, err := ReadBatch(path)
		if err != nil {
			return req, fmt.Errorf("read batch %s: %w", path, err)
		}
		return req, nil
	}
}

// LocalPath is the override file consulted next to path.
func LocalPath(path string) string {
	dir, base := filepath.Split(path)
	ext := filepath.Ext(base)
	return filepath.Join(dir, strings.TrimSuffix(base, ext)+".local"+ext)
}

func readLayered[T any](path string) (T, error) {
	var out T
	found := false

	base, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(base) > 0 {
		if err := json5.Unmarshal(base, &out); err != nil {
			return out, fmt.Errorf("parse %s: %w", path, err)
		}
		found = true
	}

	localPath := LocalPath(path)
	local, err := os.ReadFile(localPath)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(local) > 0 {
		var override T
		if err := json5.Unmarshal(local, &override); err != nil {
			return out, fmt.Errorf("parse %s: %w", localPath, err)
		}
		if err := mergo.Merge(&out, override, mergo.WithOverride); err != nil {
			return out, err
		}
		slog.Info("merging batch with local overrides", "local", localPath)
		found = true
	}

	if !found {
		return out, os.ErrNotExist
	}
	return out, nil
}
