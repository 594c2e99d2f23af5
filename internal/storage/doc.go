// Package storage provides the persistence layer behind every entity store:
// channels, templates, rules, notification logs, and user preferences.
//
// Four drivers share one repository contract:
//   - "memory": process-local, used by tests and throwaway setups
//   - "file":   JSON snapshot per collection + append-only JSONL log journal
//   - "sqlite": single-file database (WAL), the default for deployments
//   - "redis":  shared store for multi-instance deployments
//
// Status transitions, acknowledgement, and escalation markers are applied by
// the repositories themselves so every driver enforces the same state-machine
// and first-writer-wins guarantees.
package storage
