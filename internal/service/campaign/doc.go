// Package campaign implements campaign lifecycle management.
//
// The service layer owns the business logic for creating, scheduling, and
// cancelling campaigns. It depends on the repository interface defined in
// this package and should never import from the HTTP layer.
//
// The repository implementation lives in repository/postgres/.
package campaign
