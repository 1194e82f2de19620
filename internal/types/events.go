package types

import (
	"time"

	"github.com/google/uuid"
)

// EventType labels server->client JSON events on the listen socket.
type EventType string

const (
	EventServiceStatus       EventType = "service_status"
	EventTranscript          EventType = "transcript"
	EventConversationCreated EventType = "conversation_created"
	EventConversationClosed  EventType = "conversation_closed"
	EventLastConversation    EventType = "last_conversation"
	EventDegraded            EventType = "degraded"
	EventClosed              EventType = "closed"
	EventPing                EventType = "ping"
	EventError               EventType = "error"
)

// ServiceStatus values sent while a session boots.
const (
	ServiceStatusInitiating    = "initiating"
	ServiceStatusSTTInitiating = "stt_initiating"
	ServiceStatusReady         = "ready"
)

// CloseReason codes carried on the terminal closed event.
type CloseReason string

const (
	CloseReasonClientGone     CloseReason = "client_gone"
	CloseReasonCodecMismatch  CloseReason = "codec_mismatch"
	CloseReasonSTTUnavailable CloseReason = "stt_unavailable"
	CloseReasonSoftTimeout    CloseReason = "soft_timeout"
	CloseReasonShutdown       CloseReason = "shutdown"
)

// MessageEvent is the envelope for every server->client JSON event.
type MessageEvent struct {
	Type      EventType   `json:"type"`
	SessionID uuid.UUID   `json:"session_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type ServiceStatusData struct {
	Status     string `json:"status"`
	StatusText string `json:"status_text,omitempty"`
}

type ClosedData struct {
	Reason CloseReason `json:"reason"`
}

type DegradedData struct {
	Reason string `json:"reason"`
}
