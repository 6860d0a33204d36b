// Package store provides persistent storage for the registry using SQLite.
//
// # Architecture
//
// The store package uses an interface-driven architecture with specialized
// interfaces:
//
//   - RegistryStore: Services and their discovered tools
//   - AccessStore: Roles, role-tool associations, and users
//   - TokenStore: Per-(user, service) access tokens
//
// SQLiteStore implements all interfaces in a single struct, allowing easy
// composition while maintaining clear interface boundaries.
//
// # Data Models
//
//   - Service: A registered remote tool provider, keyed by unique name with
//     a unique endpoint
//   - Tool: A named capability owned by exactly one service
//   - Role: A named permission group linking tools to users
//   - User: An externally identified user holding at most one role
//   - AccessToken: One opaque credential per (user, service) pair
//
// # Consistency
//
// Unique constraints are the mutual-exclusion mechanism: concurrent
// registrations of the same service name get exactly one winner, and token
// upserts for the same pair never produce duplicate rows. Multi-row
// mutations (service deletion, role deletion) run their cleanup explicitly
// inside one transaction rather than relying on declarative cascades.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrDuplicateService / ErrDuplicateEndpoint: Service unique-key conflicts
//   - ErrDuplicateRole: Role name already taken
//
// Lookups that represent legitimate absence (a role with no tools, a user
// with no token) return empty or nil values, never errors.
//
// All methods accept context.Context for cancellation support.
package store
