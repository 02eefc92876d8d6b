// Package cluster resolves logical services to endpoints on the local node
// and owns the configuration change token used to invalidate cached cluster
// snapshots.
package cluster

import (
	"fmt"

	"github.com/sigmod/ns-server/errors"
)

// Endpoint is a resolved service address on this node.
type Endpoint struct {
	Host string
	Port int
}

// Addr renders the endpoint as host:port.
func (e Endpoint) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Topology answers whether a service is scheduled on the local node per the
// current cluster membership. Implemented by the cluster-membership
// collaborator, faked in tests.
type Topology interface {
	IsServiceLocal(name string) bool
}

// ConfigStore exposes the live cluster configuration values the locator
// reads port numbers from. Implemented by the configuration collaborator.
type ConfigStore interface {
	GetInt(key string) (int, bool)
}

// DefaultPortKeys maps each logical service to the configuration key holding
// its REST port. The table is open: new services extend it without touching
// relay logic.
func DefaultPortKeys() map[string]string {
	return map[string]string{
		"kv":       "rest.kv.port",
		"n1ql":     "rest.query.port",
		"index":    "rest.index.port",
		"fts":      "rest.fts.port",
		"cbas":     "rest.cbas.port",
		"eventing": "rest.eventing.port",
		"backup":   "rest.backup.port",
	}
}

// Locator resolves service endpoints per request. Results are never cached
// because membership and ports can change between requests.
type Locator struct {
	topology  Topology
	config    ConfigStore
	portKeys  map[string]string
	localHost string
}

// NewLocator builds a locator. localHost is the configured local interface;
// empty falls back to 127.0.0.1. A nil portKeys map uses DefaultPortKeys.
func NewLocator(topology Topology, config ConfigStore, portKeys map[string]string, localHost string) *Locator {
	if portKeys == nil {
		portKeys = DefaultPortKeys()
	}
	if localHost == "" {
		localHost = "127.0.0.1"
	}
	return &Locator{
		topology:  topology,
		config:    config,
		portKeys:  portKeys,
		localHost: localHost,
	}
}

// Resolve computes the endpoint for a service on this node. A service not
// scheduled locally yields ErrServiceNotRunning. A scheduled service with no
// port configuration is a configuration-consistency bug and fails with a
// fatal-classified error rather than defaulting to a guessed port.
func (l *Locator) Resolve(name string) (Endpoint, error) {
	if !l.topology.IsServiceLocal(name) {
		return Endpoint{}, errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrServiceNotRunning, name),
			"Locator", "Resolve", "membership check")
	}

	key, ok := l.portKeys[name]
	if !ok {
		return Endpoint{}, errors.WrapFatal(
			fmt.Errorf("%w: no port key mapping for %s", errors.ErrMissingPortConfig, name),
			"Locator", "Resolve", "port key lookup")
	}

	port, ok := l.config.GetInt(key)
	if !ok {
		return Endpoint{}, errors.WrapFatal(
			fmt.Errorf("%w: %s (key %s)", errors.ErrMissingPortConfig, name, key),
			"Locator", "Resolve", "port config lookup")
	}

	return Endpoint{Host: l.localHost, Port: port}, nil
}
