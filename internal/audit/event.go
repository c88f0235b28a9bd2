// Package audit records signing operations in a tamper-evident log.
//
// Audit logs are separate from technical logs:
//   - Events are JSON lines chained by SHA-256 hashes
//   - Audit failure is operation failure
//   - Passwords, PINs and key material are never logged
//   - All timestamps are UTC
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// EventType represents the category of audit event.
type EventType string

const (
	// Keystore events
	EventKeystoreLoaded EventType = "KEYSTORE_LOADED"

	// CMS events
	EventCMSSign    EventType = "CMS_SIGN"
	EventCMSCoSign  EventType = "CMS_COSIGN"
	EventCMSVerify  EventType = "CMS_VERIFY"
	EventCMSExtract EventType = "CMS_EXTRACT"
	EventBatchSign  EventType = "BATCH_SIGN"
)

// Result represents the outcome of an audited operation.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// ResultFrom maps a success flag to a Result.
func ResultFrom(success bool) Result {
	if success {
		return ResultSuccess
	}
	return ResultFailure
}

// Actor represents who performed the action.
type Actor struct {
	Type string `json:"type"`           // "user", "service"
	ID   string `json:"id"`             // username or request id
	Host string `json:"host,omitempty"` // hostname where action occurred
}

// Object represents what was acted upon.
type Object struct {
	Type    string `json:"type"`              // "cms", "keystore", "batch"
	Serial  string `json:"serial,omitempty"`  // signer certificate serial
	Subject string `json:"subject,omitempty"` // signer subject DN
	Name    string `json:"name,omitempty"`    // document name
}

// Context provides additional details about the operation.
type Context struct {
	Storage     string `json:"storage,omitempty"`     // keystore kind
	Signers     int    `json:"signers,omitempty"`     // signers in the resulting CMS
	Documents   int    `json:"documents,omitempty"`   // batch size
	Failed      int    `json:"failed,omitempty"`      // failed batch items
	Strategy    string `json:"strategy,omitempty"`    // verification strategy that succeeded
	Reason      string `json:"reason,omitempty"`      // failure reason
	Detached    bool   `json:"detached,omitempty"`    // detached signature
	Timestamped bool   `json:"timestamped,omitempty"` // TSA token attached
}

// Event represents a single audit log entry.
type Event struct {
	ID        string    `json:"id"`
	EventType EventType `json:"event_type"`
	Timestamp string    `json:"timestamp"` // RFC3339 UTC
	Actor     Actor     `json:"actor"`
	Object    Object    `json:"object"`
	Context   Context   `json:"context,omitempty"`
	Result    Result    `json:"result"`
	HashPrev  string    `json:"hash_prev"`
	Hash      string    `json:"hash"`
}

// NewEvent creates an event stamped with the current time and local user.
func NewEvent(eventType EventType, result Result) *Event {
	hostname, _ := os.Hostname()
	username := os.Getenv("USER")
	if username == "" {
		username = os.Getenv("USERNAME")
	}
	if username == "" {
		username = "unknown"
	}

	return &Event{
		ID:        uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Actor: Actor{
			Type: "user",
			ID:   username,
			Host: hostname,
		},
		Result: result,
	}
}

// WithObject sets the object field.
func (e *Event) WithObject(obj Object) *Event {
	e.Object = obj
	return e
}

// WithContext sets the context field.
func (e *Event) WithContext(ctx Context) *Event {
	e.Context = ctx
	return e
}

// WithActor overrides the default actor.
func (e *Event) WithActor(actor Actor) *Event {
	e.Actor = actor
	return e
}

// Validate checks that required fields are present.
func (e *Event) Validate() error {
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.Timestamp == "" {
		return fmt.Errorf("timestamp is required")
	}
	if e.Actor.Type == "" || e.Actor.ID == "" {
		return fmt.Errorf("actor type and id are required")
	}
	if e.Result == "" {
		return fmt.Errorf("result is required")
	}
	return nil
}

// CanonicalJSON returns the event without its Hash, for hashing.
func (e *Event) CanonicalJSON() ([]byte, error) {
	type eventForHash struct {
		ID        string    `json:"id"`
		EventType EventType `json:"event_type"`
		Timestamp string    `json:"timestamp"`
		Actor     Actor     `json:"actor"`
		Object    Object    `json:"object"`
		Context   Context   `json:"context,omitempty"`
		Result    Result    `json:"result"`
		HashPrev  string    `json:"hash_prev"`
	}

	return json.Marshal(eventForHash{
		ID:        e.ID,
		EventType: e.EventType,
		Timestamp: e.Timestamp,
		Actor:     e.Actor,
		Object:    e.Object,
		Context:   e.Context,
		Result:    e.Result,
		HashPrev:  e.HashPrev,
	})
}

// JSON returns the full event as JSON.
func (e *Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}
