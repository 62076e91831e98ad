// Package protocol defines the JSON messages exchanged with the steering page.
package protocol

// Incoming command types.
const (
	TypeKeyDown          = "key-down"
	TypeKeyUp            = "key-up"
	TypeUploadImage      = "upload-image"
	TypeSelectModel      = "select-model"
	TypeSend             = "send"
	TypeClear            = "clear"
	TypeTestConnection   = "test-connection"
	TypePlaybackComplete = "playback-complete"
	TypePlaybackBlocked  = "playback-blocked"
	TypeResumePlayback   = "resume-playback"
	TypeHeartbeat        = "heartbeat"
)

// Outgoing message types.
const (
	TypeKeys                = "keys"
	TypeStatus              = "status"
	TypeResult              = "result"
	TypeShowFrame           = "show-frame"
	TypePlayClip            = "play-clip"
	TypeStopPlayback        = "stop-playback"
	TypeManualStartRequired = "manual-start-required"
	TypePipelines           = "pipelines"
	TypeError               = "error"
)

// ClientCommand represents a command sent from the steering page to the bridge.
type ClientCommand struct {
	Type   string `json:"type"`
	Key    string `json:"key,omitempty"`
	Image  string `json:"image,omitempty"`
	Model  string `json:"model,omitempty"`
	ClipID uint64 `json:"clip_id,omitempty"`
}

// ResultSummary is the text part of a control result shown to the user.
// Media travels separately as show-frame or play-clip.
type ResultSummary struct {
	Type         string   `json:"type"`
	RequestID    string   `json:"request_id"`
	Success      bool     `json:"success"`
	Action       string   `json:"result,omitempty"`
	KeysReceived []string `json:"keys_received,omitempty"`
	ModelUsed    string   `json:"model_used,omitempty"`
	ProcessedAt  string   `json:"processed_at,omitempty"`
	ImageSize    string   `json:"image_size,omitempty"`
	Media        string   `json:"media,omitempty"`
	Error        string   `json:"error,omitempty"`
}
