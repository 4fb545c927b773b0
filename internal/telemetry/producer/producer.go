// Package producer publishes security events to Kafka for downstream SIEM consumers.
package producer

import (
	"lms-platform/backend/internal/telemetry"
)

// Producer emits security events and owns a connection that must be closed.
// Callers use it best-effort: log and ignore errors.
type Producer interface {
	telemetry.EventEmitter
	// Close releases resources (e.g. Kafka writer). Safe to call if already closed.
	Close() error
}
