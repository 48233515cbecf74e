// Copyright 2026 The go-overkeep Authors
// SPDX-License-Identifier: Apache-2.0

// Package overkeep is a transactional persistence layer for PostgreSQL built
// on pgx. It provides CRUD, paging, cursoring and batch mutation operations
// over identity-bearing entities, wraps every mutation in a transaction, runs
// lifecycle hooks around each operation, validates entities before they are
// written, and caches one connection factory per configured datastore.
//
// A companion Worker consumes a bounded queue of entities on a single
// background goroutine and applies a caller-supplied mutation function to them
// inside batched transactions, with lossy backpressure-driven queue draining
// when producers outpace the consumer.
//
// Entity types are registered explicitly through a MappingSet instead of being
// discovered at runtime; lifecycle hooks and validation constraints are
// likewise registered per entity kind at startup.
package overkeep
