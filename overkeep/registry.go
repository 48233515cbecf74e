// Copyright 2026 The go-overkeep Authors
// SPDX-License-Identifier: Apache-2.0

package overkeep

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Factory is the heavyweight, shared, long-lived object producing sessions
// for one configured datastore. It is built once per configuration path and
// lives for the process lifetime; Store instances and Workers bound to it
// come and go without affecting it.
type Factory struct {
	path      string
	pool      *pgxpool.Pool
	config    *FactoryConfig
	mappings  *MappingSet
	hooks     *HookRegistry
	gate      *ValidationGate
	logger    *slog.Logger
	closeOnce sync.Once
}

// BatchSize returns the configured flush/commit cadence for this factory.
func (f *Factory) BatchSize() int { return f.config.BatchSize }

// Pool exposes the underlying connection pool for advanced callers.
func (f *Factory) Pool() *pgxpool.Pool { return f.pool }

// Mappings returns the persistable entity kinds served by this factory.
func (f *Factory) Mappings() *MappingSet { return f.mappings }

// OpenStore returns a new Store bound to this factory. Each store instance
// must be owned by a single goroutine.
func (f *Factory) OpenStore() *Store {
	return &Store{
		factory: f,
		logger:  f.logger,
		tracked: make(map[Entity]struct{}),
	}
}

// Close releases the factory's connection pool. Called by the registry on
// shutdown, or directly on a factory that lost the creation race.
func (f *Factory) Close() {
	f.closeOnce.Do(func() {
		f.pool.Close()
	})
}

// RegistryOptions carries the process-wide registration tables shared by all
// factories a registry builds: entity mappings, lifecycle hooks and
// validation constraints. A factory keeps only the mappings its
// configuration names.
type RegistryOptions struct {
	Mappings *MappingSet
	Hooks    *HookRegistry
	Gate     *ValidationGate
	Logger   *slog.Logger
}

// FactoryRegistry caches one Factory per configuration path. Concurrent
// first-time lookups for the same unseen path all build a candidate; the
// first to insert wins and the losers close their discarded candidate.
type FactoryRegistry struct {
	mu        sync.Mutex
	factories map[string]*Factory

	mappings *MappingSet
	hooks    *HookRegistry
	gate     *ValidationGate
	logger   *slog.Logger
}

func NewFactoryRegistry(opts RegistryOptions) *FactoryRegistry {
	if opts.Mappings == nil {
		opts.Mappings = NewMappingSet()
	}
	if opts.Hooks == nil {
		opts.Hooks = NewHookRegistry()
	}
	if opts.Gate == nil {
		opts.Gate = NewValidationGate()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &FactoryRegistry{
		factories: make(map[string]*Factory),
		mappings:  opts.Mappings,
		hooks:     opts.Hooks,
		gate:      opts.Gate,
		logger:    opts.Logger,
	}
}

// Get returns the factory for the configuration stored at path, building it
// on first access. Construction failures are returned as *ConfigurationError
// and are not cached, so a later call may retry.
func (r *FactoryRegistry) Get(ctx context.Context, path string) (*Factory, error) {
	if path == "" {
		return nil, invalidArgf("factory configuration path cannot be empty")
	}

	r.mu.Lock()
	existing := r.factories[path]
	r.mu.Unlock()
	if existing != nil {
		return existing, nil
	}

	// Build outside the lock so a slow datastore does not serialize unrelated
	// paths. Racing callers may each build a candidate.
	candidate, err := r.build(ctx, path)
	if err != nil {
		return nil, &ConfigurationError{Path: path, Err: err}
	}

	r.mu.Lock()
	if prev := r.factories[path]; prev != nil {
		r.mu.Unlock()
		r.logger.Debug("Concurrent factory creation detected, closing new one", "path", path)
		candidate.Close()
		return prev, nil
	}
	r.factories[path] = candidate
	r.mu.Unlock()

	r.logger.Debug("New connection factory created", "path", path)
	return candidate, nil
}

func (r *FactoryRegistry) build(ctx context.Context, path string) (*Factory, error) {
	cfg, err := LoadFactoryConfig(path)
	if err != nil {
		return nil, err
	}

	mappings, err := r.mappings.subset(cfg.Entities)
	if err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.AppName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	return &Factory{
		path:     path,
		pool:     pool,
		config:   cfg,
		mappings: mappings,
		hooks:    r.hooks,
		gate:     r.gate,
		logger:   r.logger,
	}, nil
}

// Shutdown closes and clears every cached factory. Intended for process
// teardown; it must not run concurrently with active store or worker
// operations.
func (r *FactoryRegistry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, f := range r.factories {
		f.Close()
	}
	r.factories = make(map[string]*Factory)
}
