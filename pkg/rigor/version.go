// Package rigor holds module-level metadata.
package rigor

// Version is the rigor release version.
const Version = "0.3.0"

// ModulePath is the Go module path.
const ModulePath = "github.com/mesh-intelligence/rigor"
