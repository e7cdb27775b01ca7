// Package component parses a WebAssembly Component Model binary into a
// Component IR (ir.go), then resolves every alias and instance reference
// in that IR down to its originating core-module import, core-instance
// export, or component-level import (resolve.go).
//
// Parse decodes the twelve component/core index spaces directly from the
// binary's sections, rejecting any construct outside the supported
// feature set as an unsupported-feature error rather than silently
// dropping it. Resolver then walks the alias chains — including outer
// aliases that reach into an enclosing scope — down to a resolved,
// non-alias origin for every reference the linking-metadata builder
// needs.
//
// depgraph.go adapts the instance dependency graph into a validation
// pass: it asserts the binary's own core-instance ordering is already a
// valid instantiation order before the builder trusts it.
package component
