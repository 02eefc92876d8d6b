// Package health tracks the operational state of gateway subsystems and
// aggregates them into the node health document served to monitoring.
package health

import (
	"regexp"
	"strings"
	"time"

	"github.com/sigmod/ns-server/errors"
)

// Pre-compiled regexes for message sanitization
var (
	httpURLRegex    = regexp.MustCompile(`https?://[^\s]+`)
	natsURLRegex    = regexp.MustCompile(`nats://[^\s]+`)
	unixPathRegex   = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex       = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Health state values
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

// Status is the health state of one gateway subsystem.
type Status struct {
	Subsystem   string    `json:"subsystem"`
	Healthy     bool      `json:"healthy"`
	State       string    `json:"state"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// IsHealthy returns true when the state is healthy.
func (s Status) IsHealthy() bool { return s.State == StateHealthy }

// IsDegraded returns true when the state is degraded.
func (s Status) IsDegraded() bool { return s.State == StateDegraded }

// IsUnhealthy returns true when the state is unhealthy.
func (s Status) IsUnhealthy() bool { return s.State == StateUnhealthy }

// Healthy builds a healthy status.
func Healthy(subsystem, message string) Status {
	return Status{
		Subsystem: subsystem,
		Healthy:   true,
		State:     StateHealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Degraded builds a degraded status.
func Degraded(subsystem, message string) Status {
	return Status{
		Subsystem: subsystem,
		State:     StateDegraded,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Unhealthy builds an unhealthy status.
func Unhealthy(subsystem, message string) Status {
	return Status{
		Subsystem: subsystem,
		State:     StateUnhealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// FromError maps a subsystem error to a status via its classification:
// transient failures degrade, anything else is unhealthy, nil is healthy.
// The error text is sanitized before it reaches the health document.
func FromError(subsystem string, err error) Status {
	if err == nil {
		return Healthy(subsystem, "operational")
	}
	msg := sanitizeMessage(err.Error())
	if errors.IsTransient(err) {
		return Degraded(subsystem, msg)
	}
	return Unhealthy(subsystem, msg)
}

// Aggregate folds sub-statuses into one: any unhealthy wins, then any
// degraded, otherwise healthy.
func Aggregate(subsystem string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return Healthy(subsystem, "no subsystems registered")
	}

	hasUnhealthy := false
	hasDegraded := false
	for _, sub := range subStatuses {
		if sub.IsUnhealthy() {
			hasUnhealthy = true
		} else if sub.IsDegraded() {
			hasDegraded = true
		}
	}

	var status Status
	switch {
	case hasUnhealthy:
		status = Unhealthy(subsystem, "one or more subsystems are unhealthy")
	case hasDegraded:
		status = Degraded(subsystem, "one or more subsystems are degraded")
	default:
		status = Healthy(subsystem, "all subsystems are healthy")
	}

	status.SubStatuses = make([]Status, len(subStatuses))
	copy(status.SubStatuses, subStatuses)
	return status
}

// sanitizeMessage strips addresses, paths, ports and credential-looking
// fragments from a message before it is exposed over HTTP.
func sanitizeMessage(msg string) string {
	if msg == "" {
		return ""
	}

	sanitized := msg
	sanitized = httpURLRegex.ReplaceAllString(sanitized, "[URL]")
	sanitized = natsURLRegex.ReplaceAllString(sanitized, "[URL]")
	sanitized = unixPathRegex.ReplaceAllString(sanitized, "[PATH]")
	sanitized = ipAddrRegex.ReplaceAllString(sanitized, "[IP]")
	sanitized = portRegex.ReplaceAllString(sanitized, "[PORT]")

	lower := strings.ToLower(sanitized)
	if strings.Contains(lower, "password") || strings.Contains(lower, "token") ||
		strings.Contains(lower, "key") || strings.Contains(lower, "secret") ||
		strings.Contains(lower, "credential") {
		sanitized = credentialRegex.ReplaceAllString(sanitized, "[REDACTED]")
	}

	return sanitized
}
