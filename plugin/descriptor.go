// Package plugin loads and indexes the pluggable-service descriptors that
// drive REST-prefix proxying at the gateway.
package plugin

import (
	"fmt"
	"strings"

	"github.com/sigmod/ns-server/errors"
)

// Strategy identifies the algorithm used to locate a backend for a logical
// service. The set is closed; new strategies are added as new constants, not
// open-ended dispatch.
type Strategy string

// Recognized proxy strategies
const (
	// StrategyLocal resolves the service on the current node only
	StrategyLocal Strategy = "local"
)

// supportedServices is the fixed enumeration of logical services a
// descriptor may name. Descriptors naming anything else are dropped at load.
var supportedServices = map[string]struct{}{
	"kv":       {},
	"n1ql":     {},
	"index":    {},
	"fts":      {},
	"cbas":     {},
	"eventing": {},
	"backup":   {},
}

// IsSupportedService reports whether name is a known logical service.
func IsSupportedService(name string) bool {
	_, ok := supportedServices[name]
	return ok
}

// ServiceDescriptor describes one pluggable service endpoint. Immutable
// after load.
type ServiceDescriptor struct {
	Service    string
	Strategy   Strategy
	RESTPrefix string // normalized, no leading or trailing slash
	DocRoot    string
}

// rawSpec is the JSON shape of a plugin spec source
type rawSpec struct {
	Service       string `json:"service"`
	ProxyStrategy string `json:"proxy-strategy"`
	RESTAPIPrefix string `json:"rest-api-prefix"`
	DocRoot       string `json:"doc-root"`
}

// normalizePrefix strips surrounding slashes so "query", "/query" and
// "query/" all key the same descriptor.
func normalizePrefix(prefix string) string {
	return strings.Trim(prefix, "/")
}

// validate converts a raw spec into a descriptor, rejecting unknown service
// names and unrecognized strategies.
func (r rawSpec) validate() (ServiceDescriptor, error) {
	if !IsSupportedService(r.Service) {
		return ServiceDescriptor{}, errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrUnknownService, r.Service),
			"plugin", "validate", "service name check")
	}

	if Strategy(r.ProxyStrategy) != StrategyLocal {
		return ServiceDescriptor{}, errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrInvalidStrategy, r.ProxyStrategy),
			"plugin", "validate", "proxy strategy check")
	}

	prefix := normalizePrefix(r.RESTAPIPrefix)
	if prefix == "" {
		return ServiceDescriptor{}, errors.WrapInvalid(
			fmt.Errorf("empty rest-api-prefix for service %q", r.Service),
			"plugin", "validate", "prefix check")
	}

	return ServiceDescriptor{
		Service:    r.Service,
		Strategy:   Strategy(r.ProxyStrategy),
		RESTPrefix: prefix,
		DocRoot:    r.DocRoot,
	}, nil
}
