// Copyright 2026 The go-overkeep Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("🗃️  go-overkeep - Transactional Entity Persistence Library")
	fmt.Println("==========================================================")
	fmt.Println()
	fmt.Println("go-overkeep provides transactional entity persistence over PostgreSQL")
	fmt.Println("with per-mutation transactions, batch writes, validation gating,")
	fmt.Println("lifecycle hooks and lossy background workers.")
	fmt.Println()

	fmt.Println("📚 Available Examples:")
	fmt.Println()
	fmt.Println("1. 🚀 Quickstart Example (examples/quickstart/)")
	fmt.Println("   End-to-end setup: entity mapping, validation, hooks, factory")
	fmt.Println("   registry, store CRUD and a background worker with metrics")
	fmt.Println("   Run: cd examples/quickstart && go run . -config factory.json")
	fmt.Println()
}
