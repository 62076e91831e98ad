package control

import "time"

// MediaKind tags the payload carried by a successful result.
type MediaKind int

const (
	MediaNone MediaKind = iota
	MediaClip
	MediaFrame
)

func (k MediaKind) String() string {
	switch k {
	case MediaClip:
		return "clip"
	case MediaFrame:
		return "frame"
	default:
		return "none"
	}
}

// Media is the frame or clip returned by one generation step.
type Media struct {
	Kind MediaKind
	Data string
	// Decoded is set for frames whose payload parsed as an image. Data is
	// then the normalized data URL.
	Decoded bool
}

// ControlRequest is the snapshot sent for one dispatch.
type ControlRequest struct {
	ID     string
	Epoch  uint64
	Image  string
	Keys   KeySet
	Model  string
	SentAt time.Time
}

// ControlResult is either a success with media or a failure.
type ControlResult struct {
	RequestID string
	Success   bool

	Action       string
	KeysEcho     []string
	PipelineUsed string
	ProcessedAt  string
	ImageSize    string
	Media        Media

	Message string
	Err     error
}

func failure(requestID string, err error) ControlResult {
	return ControlResult{
		RequestID: requestID,
		Message:   err.Error(),
		Err:       err,
	}
}

// Outcome describes what happened to a dispatch attempt.
type Outcome int

const (
	OutcomeSent Outcome = iota
	OutcomeThrottled
	OutcomeBusy
	OutcomeNoImage
	OutcomeIdle
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeThrottled:
		return "throttled"
	case OutcomeBusy:
		return "busy"
	case OutcomeNoImage:
		return "no_image"
	case OutcomeIdle:
		return "idle"
	default:
		return "unknown"
	}
}
