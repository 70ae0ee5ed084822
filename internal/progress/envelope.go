package progress

import (
	"time"

	"github.com/foliograph/foliograph/internal/catalog"
)

// envelopeVersion is the wire-format version stamped on every outbound
// message, per spec.md section 4.7.
const envelopeVersion = "1.0.0"

// MessageType is the closed set of outbound envelope types.
type MessageType string

const (
	MessageProgress MessageType = "progress"
	MessageComplete MessageType = "complete"
	MessageError    MessageType = "error"
	MessageReadyAck MessageType = "ready_ack"
)

// Envelope is the outbound WebSocket message shape every pipeline event
// travels in (spec.md section 4.7).
type Envelope struct {
	Pipeline  catalog.Pipeline `json:"pipeline"`
	Version   string           `json:"version"`
	JobID     string           `json:"jobId"`
	Type      MessageType      `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Payload   any              `json:"payload"`
}

func newEnvelope(jobID string, pipeline catalog.Pipeline, typ MessageType, now time.Time, payload any) Envelope {
	return Envelope{
		Pipeline:  pipeline,
		Version:   envelopeVersion,
		JobID:     jobID,
		Type:      typ,
		Timestamp: now,
		Payload:   payload,
	}
}

// ProgressPayload is the payload shape for MessageProgress.
type ProgressPayload struct {
	Progress       float64 `json:"progress"`
	ProcessedCount int     `json:"processedCount"`
	TotalCount     int     `json:"totalCount"`
	Message        string  `json:"message,omitempty"`
	CurrentBook    any     `json:"currentBook,omitempty"`
}

// ErrorPayload is the payload shape for MessageError.
type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// inboundMessage is the only shape the core parses from the client; every
// other inbound frame is logged and ignored (spec.md section 4.7-B).
type inboundMessage struct {
	Type string `json:"type"`
}
