package domain

// Event is one immutable entry of a job's event stream.
// Seq is assigned by the stream in insertion order, starting at 1.
type Event struct {
	JobID     JobID
	Seq       uint64
	Payload   string
	CreatedAt Timestamp
}

// EventType tags the structured progress messages the service itself emits.
// Agent output is published as-is and carries no type.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
)

// ConnectedMessage is the synthetic acknowledgement sent to every new subscriber.
type ConnectedMessage struct {
	Type  EventType `json:"type"`
	JobID JobID     `json:"jobId"`
}

// TerminalMessage closes a job's stream.
type TerminalMessage struct {
	Type   EventType     `json:"type"`
	JobID  JobID         `json:"jobId"`
	Stage  string        `json:"stage,omitempty"`
	Error  string        `json:"error,omitempty"`
	Slides *SlideSummary `json:"slides,omitempty"`
}

type SlideSummary struct {
	Total     int `json:"total"`
	Published int `json:"published"`
	Failed    int `json:"failed"`
}
