// Copyright 2026 The go-overkeep Authors
// SPDX-License-Identifier: Apache-2.0

package overkeep

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "factory.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFactoryConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `{
		"dsn": "postgres://localhost:5432/keep",
		"entities": ["author", "note"]
	}`)

	cfg, err := LoadFactoryConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultBatchSize, cfg.BatchSize)
	assert.Equal(t, "go-overkeep", cfg.AppName)
	assert.Equal(t, []string{"author", "note"}, cfg.Entities)
}

func TestLoadFactoryConfig_Overrides(t *testing.T) {
	path := writeConfig(t, `{
		"dsn": "postgres://localhost:5432/keep",
		"app_name": "billing",
		"batch_size": 10,
		"entities": ["author"]
	}`)

	cfg, err := LoadFactoryConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, "billing", cfg.AppName)
}

func TestLoadFactoryConfig_MissingEntitiesIsFatal(t *testing.T) {
	path := writeConfig(t, `{"dsn": "postgres://localhost:5432/keep"}`)
	_, err := LoadFactoryConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entities")
}

func TestLoadFactoryConfig_MissingDSN(t *testing.T) {
	path := writeConfig(t, `{"entities": ["author"]}`)
	_, err := LoadFactoryConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dsn")
}

func TestLoadFactoryConfig_NegativeBatchSize(t *testing.T) {
	path := writeConfig(t, `{
		"dsn": "postgres://localhost:5432/keep",
		"batch_size": -1,
		"entities": ["author"]
	}`)
	_, err := LoadFactoryConfig(path)
	require.Error(t, err)
}

func TestLoadFactoryConfig_UnreadableFile(t *testing.T) {
	_, err := LoadFactoryConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestLoadFactoryConfig_MalformedJSON(t *testing.T) {
	path := writeConfig(t, `{not json`)
	_, err := LoadFactoryConfig(path)
	require.Error(t, err)
}
