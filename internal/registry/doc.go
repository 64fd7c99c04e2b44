// Package registry stores agent and service declarations and resolves the
// services a set of agent types needs.
//
// # Lifecycle
//
// The global Registry has two phases. During registration, writers add
// declarations under a mutex; every write publishes a fresh immutable
// snapshot through an atomic pointer. After Freeze, writes are rejected.
// Readers always load the current snapshot without taking the lock, so
// lookups never contend with registration.
//
// # Scoped registries
//
// CreateScopedRegistryForBundle computes the transitive closure of what one
// compiled workflow bundle requires, plus the fixed core services, and
// copies exactly those declarations into a ScopedRegistry. A ScopedRegistry
// never changes after construction, shares no slices or maps with the
// global registry or with other scoped registries, and needs no locking.
//
// # Resolution
//
// ResolveAgentRequirements walks breadth-first from each agent's direct
// service requirements through every visited service's required
// dependencies. Protocol requirements pull in the service the protocol map
// assigns to that protocol. A visited set guarantees termination on
// dependency cycles. Unknown agent types are reported in Missing rather
// than failing the whole resolution.
package registry
