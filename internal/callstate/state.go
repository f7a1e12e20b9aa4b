package callstate

import (
	"fmt"
	"strconv"
	"time"

	"github.com/emiago/sipgo/sip"
)

// CallState is the lifecycle stage of the local line.
type CallState string

const (
	StateIdle       CallState = "IDLE"
	StateConnecting CallState = "CONNECTING"
	StateRinging    CallState = "RINGING"
	StateConnected  CallState = "CONNECTED"
	StateEnding     CallState = "ENDING"
)

// LocalEntryID is the roster identifier reserved for the local line's call.
const LocalEntryID = "local-user"

// ActiveCallEntry is one call as shown in the monitoring roster.
type ActiveCallEntry struct {
	ID             string    `json:"id"`
	AgentName      string    `json:"agentName"`
	CustomerName   string    `json:"customerName"`
	CustomerNumber string    `json:"customerNumber"`
	State          CallState `json:"state"`
	Duration       int       `json:"duration"`
	StartTime      time.Time `json:"startTime"`
}

// Registration describes the signaling endpoint the line registers against.
type Registration struct {
	Server   string `json:"server"`
	Port     string `json:"port"`
	Protocol string `json:"protocol"`
	Domain   string `json:"domain"`
}

// AddressOfRecord returns the sip URI of extension on the registration's domain.
func (r Registration) AddressOfRecord(extension string) sip.Uri {
	uri := sip.Uri{
		Scheme: "sip",
		User:   extension,
		Host:   r.Domain,
	}
	if uri.Host == "" {
		uri.Host = r.Server
	}
	if port, err := strconv.Atoi(r.Port); err == nil {
		uri.Port = port
	}
	return uri
}

// Status is a point-in-time view of the local line.
type Status struct {
	State        CallState `json:"state"`
	ActiveNumber string    `json:"activeNumber,omitempty"`
	ConnectedAt  time.Time `json:"connectedAt,omitzero"`
}

// ConfigurationError is returned when an operation needs line configuration
// that has not been registered.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}
