package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/triage-ai/palisade-rasp/internal/engine"
)

// EventWriter persists attack events.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *AttackEvent)
	Close()
}

// AttackEvent is one non-clean verdict, with enough of the hooked operation
// and request to triage it later.
type AttackEvent struct {
	RequestID      string
	ProjectID      string
	Timestamp      time.Time
	Kind           string
	Algorithm      string
	Action         string // action after shadow mode
	Verdict        string // action the matrix asked for
	Message        string
	Confidence     uint8
	IsShadow       bool
	URL            string
	Method         string
	Language       string
	PayloadPreview string // First 500 chars of the event JSON
	PayloadHash    string // SHA256 of the full event JSON
	PayloadSize    uint32
	Stack          []string
	LatencyMs      float32
	Source         string // "grpc", "http" or "cli"
}

// PayloadPreviewLength is the max chars stored in payload_preview.
const PayloadPreviewLength = 500

// maxStackFrames bounds the stored stack.
const maxStackFrames = 50

// NewAttackEvent builds the record for verdict v of event ev. returned is
// the action sent back to the agent, which differs from v.Action in shadow
// mode.
func NewAttackEvent(projectID string, ev engine.Event, rc *engine.RequestContext, v engine.Verdict, returned engine.Action, latency time.Duration, source string) *AttackEvent {
	payload, _ := json.Marshal(ev)
	sum := sha256.Sum256(payload)

	e := &AttackEvent{
		RequestID:      uuid.NewString(),
		ProjectID:      projectID,
		Timestamp:      time.Now().UTC(),
		Algorithm:      v.Algorithm,
		Action:         returned.String(),
		Verdict:        v.Action.String(),
		Message:        v.Message,
		Confidence:     uint8(v.Confidence),
		IsShadow:       returned != v.Action,
		PayloadPreview: TruncatePayload(string(payload), PayloadPreviewLength),
		PayloadHash:    hex.EncodeToString(sum[:]),
		PayloadSize:    uint32(len(payload)),
		LatencyMs:      float32(latency.Microseconds()) / 1000,
		Source:         source,
	}
	if ev != nil {
		e.Kind = string(ev.Kind())
	}
	if rc != nil {
		e.URL = rc.URL
		e.Method = rc.Method
		e.Language = rc.Language
		e.Stack = rc.Stack
		if len(e.Stack) > maxStackFrames {
			e.Stack = e.Stack[:maxStackFrames]
		}
	}
	if e.Stack == nil {
		e.Stack = []string{}
	}
	return e
}

// TruncatePayload returns the first N characters (runes) of a payload for
// preview storage. It never splits a multi-byte UTF-8 character.
func TruncatePayload(payload string, maxLen int) string {
	runes := []rune(payload)
	if len(runes) <= maxLen {
		return payload
	}
	return string(runes[:maxLen])
}
