// Copyright 2026 The go-overkeep Authors
// SPDX-License-Identifier: Apache-2.0

package overkeep

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// DefaultBatchSize is the flush/commit cadence used when a factory
// configuration does not override batch_size.
const DefaultBatchSize = 50

// FactoryConfig is the named property set for one connection factory path.
type FactoryConfig struct {
	// DSN is the PostgreSQL connection string for this datastore.
	DSN string `json:"dsn"`

	// AppName is reported to the server for connection tracking.
	AppName string `json:"app_name"`

	// BatchSize is the item count at which bulk operations switch to a
	// dedicated periodically-flushed session, and the commit cadence of the
	// async worker. Defaults to DefaultBatchSize.
	BatchSize int `json:"batch_size"`

	// Entities names the persistable entity kinds served by this factory.
	// The list is required; its absence is a fatal configuration error.
	Entities []string `json:"entities"`
}

// LoadFactoryConfig reads and validates the factory configuration stored at
// path.
func LoadFactoryConfig(path string) (*FactoryConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read factory config: %w", err)
	}

	var cfg FactoryConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse factory config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *FactoryConfig) validate() error {
	if c.DSN == "" {
		return errors.New("factory config has no dsn")
	}
	if len(c.Entities) == 0 {
		return errors.New("factory config declares no entities")
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("batch_size cannot be negative: %d", c.BatchSize)
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.AppName == "" {
		c.AppName = "go-overkeep"
	}
	return nil
}
