package genclient

import (
	"encoding/json"
	"time"
)

// Endpoints holds the request paths relative to the base URL.
type Endpoints struct {
	Process string
	Reset   string
	Status  string
}

// Config represents a config.
type Config struct {
	BaseURL   string
	Endpoints Endpoints
	// Timeout bounds each round trip. Zero leaves it to the transport.
	Timeout time.Duration
}

// ProcessRequest is the body of a control step.
type ProcessRequest struct {
	Image string   `json:"image"`
	Keys  []string `json:"keys"`
	Model string   `json:"model"`
}

// ProcessResponse is the backend reply to a control step.
type ProcessResponse struct {
	Success      bool            `json:"success"`
	Result       string          `json:"result,omitempty"`
	KeysReceived []string        `json:"keys_received,omitempty"`
	ModelUsed    string          `json:"model_used,omitempty"`
	ProcessedAt  string          `json:"processed_at,omitempty"`
	ImageSize    json.RawMessage `json:"image_size,omitempty"`
	VideoData    string          `json:"video_data,omitempty"`
	CurrentFrame string          `json:"current_frame,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// ResetRequest asks the backend to reset one pipeline.
type ResetRequest struct {
	Model string `json:"model"`
}

// ResetResponse is the backend reply to a reset.
type ResetResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// PipelineStatus is one entry of the status report.
type PipelineStatus struct {
	Status string `json:"status"`
}

// StatusReport maps pipeline ids to their status.
type StatusReport map[string]PipelineStatus

// ImageSizeText renders image_size for display whether the backend sent a
// string or a structured value.
func (r ProcessResponse) ImageSizeText() string {
	if len(r.ImageSize) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(r.ImageSize, &text); err == nil {
		return text
	}
	return string(r.ImageSize)
}
