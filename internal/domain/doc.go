// Package domain defines the core business types for the outreach engine.
//
// Types in this package are pure value objects with no behavior beyond
// validation and simple derivations. They are the shared language between
// the engine, the repository layer, and the HTTP control surface.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Pure helper methods on the types are allowed
//   - Constants and enums belong here
package domain
