package gateway

import (
	"context"
	"net/http"
)

// Permissions checked before serving gateway endpoints. Authorization
// decisioning itself is a collaborator concern; the gateway only asks.
const (
	// PermPoolsRead guards the pool-info and node-services snapshots
	PermPoolsRead = "cluster.pools!read"

	// PermPluggableUI guards proxied pluggable-service endpoints
	PermPluggableUI = "cluster.pluggable_ui!access"
)

// Authorizer decides whether a request may perform an operation.
type Authorizer interface {
	HasPermission(r *http.Request, permission string) bool
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(r *http.Request, permission string) bool

// HasPermission calls the wrapped function
func (f AuthorizerFunc) HasPermission(r *http.Request, permission string) bool {
	return f(r, permission)
}

// SnapshotBuilder computes the cluster-state payloads served to
// state-watching clients. Building them is the expensive operation the
// snapshot cache memoizes. Implemented by the cluster business-logic
// collaborator.
type SnapshotBuilder interface {
	// BuildPoolInfo returns the current pool configuration document
	BuildPoolInfo(ctx context.Context) (any, error)

	// BuildNodeServices returns the per-node service address document
	BuildNodeServices(ctx context.Context) (any, error)
}
