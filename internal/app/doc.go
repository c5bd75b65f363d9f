// Package app provides the application service layer.
//
// Orchestrates the presence use cases: location acquisition, the visibility session lifecycle,
// nearby rescans and interest signals. Sits between the HTTP/WebSocket adapters and the domain
// collaborators. Depends on domain interfaces, not concrete implementations.
package app
