// Copyright 2026 The go-overkeep Authors
// SPDX-License-Identifier: Apache-2.0

package overkeep

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Pool construction is lazy, so registry behavior is testable without a
// reachable database; only acquiring a connection talks to the server.

func testRegistry(t *testing.T) *FactoryRegistry {
	t.Helper()
	ms := NewMappingSet()
	require.NoError(t, ms.Register(authorMapping()))
	require.NoError(t, ms.Register(noteMapping()))
	return NewFactoryRegistry(RegistryOptions{Mappings: ms})
}

func TestFactoryRegistry_EmptyPath(t *testing.T) {
	r := testRegistry(t)
	_, err := r.Get(context.Background(), "")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestFactoryRegistry_ConstructionFailureNotCached(t *testing.T) {
	r := testRegistry(t)
	path := writeConfig(t, `{"dsn": "postgres://localhost:5432/keep"}`)

	_, err := r.Get(context.Background(), path)
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, path, ce.Path)

	// Same failure again: the error was not cached and the path retried.
	_, err = r.Get(context.Background(), path)
	require.ErrorAs(t, err, &ce)
}

func TestFactoryRegistry_UnknownConfiguredKind(t *testing.T) {
	r := testRegistry(t)
	path := writeConfig(t, `{
		"dsn": "postgres://localhost:5432/keep",
		"entities": ["author", "ghost"]
	}`)

	_, err := r.Get(context.Background(), path)
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, err.Error(), "ghost")
}

func TestFactoryRegistry_SingleWinnerUnderConcurrentFirstAccess(t *testing.T) {
	r := testRegistry(t)
	defer r.Shutdown()

	path := writeConfig(t, `{
		"dsn": "postgres://localhost:5432/keep",
		"entities": ["author"]
	}`)

	const n = 16
	factories := make([]*Factory, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f, err := r.Get(context.Background(), path)
			assert.NoError(t, err)
			factories[i] = f
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Same(t, factories[0], factories[i], fmt.Sprintf("caller %d got a different factory", i))
	}

	// Subsequent calls reuse the retained instance.
	again, err := r.Get(context.Background(), path)
	require.NoError(t, err)
	assert.Same(t, factories[0], again)
}

func TestFactoryRegistry_FactoryConfiguration(t *testing.T) {
	r := testRegistry(t)
	defer r.Shutdown()

	path := writeConfig(t, `{
		"dsn": "postgres://localhost:5432/keep",
		"batch_size": 7,
		"entities": ["note"]
	}`)

	f, err := r.Get(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 7, f.BatchSize())
	assert.Equal(t, []string{"note"}, f.Mappings().Kinds())

	// The factory serves only the kinds its configuration names.
	_, err = f.Mappings().Lookup("author")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestFactoryRegistry_ShutdownClearsFactories(t *testing.T) {
	r := testRegistry(t)

	path := writeConfig(t, `{
		"dsn": "postgres://localhost:5432/keep",
		"entities": ["author"]
	}`)

	first, err := r.Get(context.Background(), path)
	require.NoError(t, err)

	r.Shutdown()

	// A fresh factory is built after shutdown.
	second, err := r.Get(context.Background(), path)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	r.Shutdown()
}

func TestFactory_CloseIdempotent(t *testing.T) {
	r := testRegistry(t)
	path := writeConfig(t, `{
		"dsn": "postgres://localhost:5432/keep",
		"entities": ["author"]
	}`)

	f, err := r.Get(context.Background(), path)
	require.NoError(t, err)

	f.Close()
	f.Close()
}
