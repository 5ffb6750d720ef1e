// Package types defines the RunStore and Run interfaces, store configuration,
// run counters and the standard errors shared by every rigor package.
//
// Implementations live in internal/store and are created through pkg/store.
package types
