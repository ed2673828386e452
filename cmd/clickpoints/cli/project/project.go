package project

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mwantia/clickpoints/internal/session"
	"github.com/mwantia/clickpoints/pkg/db/store"
	"github.com/mwantia/clickpoints/pkg/log"

	config "github.com/mwantia/clickpoints/internal/config/app"
)

// Overrides holds the -key=value option arguments removed before flag parsing.
type Overrides map[string]string

func loadConfig(name string) (*config.BaseConfig, log.LoggerService, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, log.NewLoggerService(name, cfg.Log), nil
}

func open(ctx context.Context, name string, args []string, overrides Overrides) (*session.Session, log.LoggerService, error) {
	cfg, logger, err := loadConfig(name)
	if err != nil {
		return nil, nil, err
	}
	s, err := openWith(ctx, cfg, logger, args, overrides)
	return s, logger, err
}

func openWith(ctx context.Context, cfg *config.BaseConfig, logger log.LoggerService, args []string, overrides Overrides) (*session.Session, error) {
	return session.Open(ctx, cfg, logger, session.OpenOptions{
		Args:      args,
		Overrides: overrides,
	})
}

func requireProject(path string) error {
	if !strings.EqualFold(filepath.Ext(path), ".cdb") {
		return fmt.Errorf("'%s' is not a project file", path)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("failed to open project: %w", err)
	}
	return nil
}

// absolute resolves args against the working directory so another instance
// can use them.
func absolute(args []string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		if abs, err := filepath.Abs(arg); err == nil {
			arg = abs
		}
		out[i] = arg
	}
	return out
}

// closeSession closes s, dropping a modified temporary project with a warning.
func closeSession(ctx context.Context, s *session.Session, logger log.LoggerService) error {
	err := s.Close(ctx, false)
	if errors.Is(err, store.ErrUnsavedChanges) {
		logger.Warn("Discarding unsaved temporary project, use --save-as to keep it")
		return s.Close(ctx, true)
	}
	return err
}
