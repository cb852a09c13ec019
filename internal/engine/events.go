package engine

import "fmt"

// EventKind discriminates the shape of an Event (§6 Progress output schema).
type EventKind int

const (
	EventMessage EventKind = iota
	EventAssessment
	EventFinalAssessment
	EventFinalChunk
	EventError
	EventFinalFailure
)

// Event is the single progress record type streamed out of Orchestrator.Run,
// flattening the Python original's "plain string or dict with known keys"
// shape into one Go struct with a Kind discriminator (§6).
type Event struct {
	Kind EventKind `json:"kind"`

	Message             *string           `json:"message,omitempty"`
	ToolName             *string          `json:"tool_name,omitempty"`
	Assessment           *AssessmentRecord `json:"assessment,omitempty"`
	FinalAssessment      *FinalStateRecord `json:"final_assessment,omitempty"`
	ShouldGenerateFinal  *bool             `json:"should_generate_final,omitempty"`
	FinalSummary         *string           `json:"final_summary,omitempty"`
	Error                *string           `json:"error,omitempty"`
	FinalFailure         *string           `json:"final_failure,omitempty"`
}

// String renders the plain-string form of an Event for non-JSON consumers,
// mirroring the Python original's plain-string progress lines.
func (e Event) String() string {
	switch e.Kind {
	case EventMessage:
		if e.Message != nil {
			return *e.Message
		}
	case EventAssessment:
		if e.ToolName != nil && e.Message != nil {
			return fmt.Sprintf("[%s] %s", *e.ToolName, *e.Message)
		}
	case EventFinalAssessment:
		if e.FinalAssessment != nil {
			return fmt.Sprintf("final assessment: %s", e.FinalAssessment.Reason)
		}
	case EventFinalChunk:
		if e.FinalSummary != nil {
			return *e.FinalSummary
		}
	case EventError:
		if e.Error != nil {
			return "error: " + *e.Error
		}
	case EventFinalFailure:
		if e.FinalFailure != nil {
			return "task terminated: " + *e.FinalFailure
		}
	}
	return ""
}
