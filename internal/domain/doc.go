// Package domain defines the core domain types and interfaces.
//
// This package contains concept-oriented files (errors.go, location.go, session.go, profile.go, etc.)
// with shared types and the contracts of the external collaborators: geolocation provider,
// backend store, change feed and interest procedure. No implementation code - just contracts.
// Prevents circular imports by keeping interfaces on the consumer side.
package domain
