package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies the payload variant carried by an Event
type Type string

const (
	TypeClick       Type = "gesture_click"
	TypeScroll      Type = "gesture_scroll"
	TypeLifecycle   Type = "lifecycle"
	TypeColdLaunch  Type = "cold_launch"
	TypeWarmLaunch  Type = "warm_launch"
	TypeException   Type = "exception"
	TypeANR         Type = "anr"
	TypeCPUUsage    Type = "cpu_usage"
	TypeMemoryUsage Type = "memory_usage"
	TypeHTTP        Type = "http"
	TypeCustom      Type = "custom"
)

// IsValid reports whether the type is a known event kind
func (t Type) IsValid() bool {
	switch t {
	case TypeClick, TypeScroll, TypeLifecycle, TypeColdLaunch, TypeWarmLaunch,
		TypeException, TypeANR, TypeCPUUsage, TypeMemoryUsage, TypeHTTP, TypeCustom:
		return true
	default:
		return false
	}
}

// IsCrash reports whether the type terminates the process and must be
// flushed before the process dies
func (t Type) IsCrash() bool {
	return t == TypeException || t == TypeANR
}

// Session represents one bounded period of app usage. A session row is
// written durably the moment the session is created and is never
// reassigned to events retroactively.
type Session struct {
	ID             string
	PID            int
	CreatedAt      time.Time
	Crashed        bool
	NeedsReporting bool
	Sampled        bool
	AppVersion     string
	AppBuild       string
}

// Event is one discrete telemetry record. Payload is a tagged union:
// Type selects the variant, Payload holds its serialized form. New kinds
// are added as new Type constants, never as subtypes.
type Event struct {
	ID                    string
	SessionID             string
	Timestamp             time.Time
	Type                  Type
	Payload               json.RawMessage
	Attributes            map[string]string
	UserDefinedAttributes map[string]string
	Attachments           []Attachment
	UserTriggered         bool

	// BatchID is empty until the event is claimed by an in-flight
	// export; at most one export may hold the claim at a time.
	BatchID string
}

// Validate checks that the event is well-formed enough to persist
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event has no id")
	}
	if e.SessionID == "" {
		return fmt.Errorf("event %s has no session id", e.ID)
	}
	if !e.Type.IsValid() {
		return fmt.Errorf("event %s has unknown type %q", e.ID, e.Type)
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has empty payload", e.ID)
	}
	if !json.Valid(e.Payload) {
		return fmt.Errorf("event %s payload is not valid JSON", e.ID)
	}
	return nil
}
