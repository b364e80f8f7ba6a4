// ABOUTME: Operation layer orchestrating permissions, validation, and worker calls.
// ABOUTME: Every agent-facing operation funnels through Service methods here.

package library

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/2389/shelf-gateway/internal/config"
	"github.com/2389/shelf-gateway/internal/help"
	"github.com/2389/shelf-gateway/internal/schema"
	"github.com/2389/shelf-gateway/internal/textsearch"
)

// Sender dispatches one RPC to a library's worker process.
// Satisfied by *pool.Pool.
type Sender interface {
	Call(ctx context.Context, library, method string, params any) (json.RawMessage, error)
}

// Service implements the agent-facing library operations. All permission and
// validation checks happen here, before anything reaches a worker.
type Service struct {
	cfg      *config.Config
	sender   Sender
	schemas  *schema.Cache
	searches *textsearch.Cache
	help     *help.Store
	logger   *slog.Logger
}

// NewService wires the operation layer together. The schema cache is built
// over the sender so schemas are fetched from workers on first use.
func NewService(cfg *config.Config, sender Sender, searches *textsearch.Cache, helpStore *help.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if helpStore == nil {
		helpStore = help.NewStore(cfg.SkillsDir)
	}

	s := &Service{
		cfg:      cfg,
		sender:   sender,
		searches: searches,
		help:     helpStore,
		logger:   logger.With("component", "library"),
	}
	s.schemas = schema.NewCache(func(ctx context.Context, library string) (schema.Schema, error) {
		raw, err := sender.Call(ctx, library, "get_library_schema", nil)
		if err != nil {
			return nil, err
		}
		return schema.ParseSchema(raw)
	})
	return s
}

// Config exposes the service's configuration to the serving layer.
func (s *Service) Config() *config.Config { return s.cfg }

// Help exposes the help topic store to the serving layer.
func (s *Service) Help() *help.Store { return s.help }

// ListLibraries describes every configured library with its grants.
func (s *Service) ListLibraries() []config.LibrarySummary {
	return s.cfg.ListLibraries()
}

func (s *Service) library(name string) (*config.LibraryConfig, error) {
	return s.cfg.Library(name)
}

// call performs one worker RPC and decodes the result into out (skipped when
// out is nil).
func (s *Service) call(ctx context.Context, library, method string, params any, out any) error {
	raw, err := s.sender.Call(ctx, library, method, params)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	return nil
}
