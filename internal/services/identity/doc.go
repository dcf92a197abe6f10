// Package identity owns the unified account graph: one local Account, its
// Profile, and the external provider identities linked to it.
//
// It is the single place that reconciles social logins with local accounts
// and enforces the uniqueness and lifecycle rules, so transport layers can
// depend on stable account IDs instead of re-implementing identity logic.
//
// Subpackages:
//   - app: subsystem wiring and lifecycle
//   - account: account and profile domain model
//   - link: linked external identity domain model
//   - lifecycle: account creation, status transitions, deletion
//   - linking: social identity resolution, unlink, link listing
//   - query: read-only account lookups and filtered listing
//   - credentials: password hashing capability
//   - storage: persistence interfaces and SQLite implementation
package identity
