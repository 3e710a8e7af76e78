// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ManuGH/artifactd/internal/config"
	"github.com/ManuGH/artifactd/internal/log"
	"github.com/ManuGH/artifactd/internal/persistence/sqlite"
	"github.com/ManuGH/artifactd/internal/store"
)

// PerformStartupChecks validates the environment before the daemon starts
// serving: writable directories and resolvable tool binaries.
func PerformStartupChecks(_ context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")

	for name, dir := range map[string]string{"data": cfg.DataDir, "cache": cfg.CacheDir} {
		if err := checkWritable(dir); err != nil {
			return fmt.Errorf("%s directory check failed: %w", name, err)
		}
		logger.Debug().Str(log.FieldPath, dir).Msg(name + " directory is writable")
	}

	if cfg.Backend == config.BackendFFmpeg {
		for _, bin := range []string{cfg.FFmpegBin, cfg.FFprobeBin} {
			if _, err := exec.LookPath(bin); err != nil {
				return fmt.Errorf("binary not found (%s): %w", bin, err)
			}
		}
	}

	for _, db := range store.SQLiteFiles(cfg.DataDir, cfg.Store.RecordBackend, cfg.Store.LockBackend) {
		if _, err := os.Stat(db); err != nil {
			continue
		}
		issues, err := sqlite.VerifyIntegrity(db, "quick")
		if err != nil {
			return fmt.Errorf("database check failed (%s): %w", db, err)
		}
		if len(issues) > 0 {
			return fmt.Errorf("database %s is corrupt: %s", db, strings.Join(issues, "; "))
		}
		logger.Debug().Str(log.FieldPath, db).Msg("database integrity ok")
	}

	if cfg.Store.LockBackend == "memory" {
		logger.Warn().Msg("lock store is in memory; crash recovery of build locks is disabled")
	}
	if cfg.Store.RecordBackend == "memory" {
		logger.Warn().Msg("record store is in memory; artifacts are rebuilt after every restart")
	}

	tempDir := filepath.Clean(os.TempDir())
	cacheDir := filepath.Clean(cfg.CacheDir)
	if tempDir != "." && (cacheDir == tempDir || strings.HasPrefix(cacheDir, tempDir+string(filepath.Separator))) {
		logger.Warn().Str(log.FieldPath, cfg.CacheDir).Msg("cache directory is under temp; artifacts may be lost on reboot")
	}

	logger.Info().Msg("startup checks passed")
	return nil
}
