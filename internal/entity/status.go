package entity

import "time"

// JobID identifies one video-generation job (the backend calls it a story id).
type JobID string

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions can follow s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ProcessingStep subdivides PROCESSING. The server may report steps in any order.
type ProcessingStep string

const (
	StepScriptProcessing     ProcessingStep = "SCRIPT_PROCESSING"
	StepVoiceGenerating      ProcessingStep = "VOICE_GENERATING"
	StepVoiceCompleted       ProcessingStep = "VOICE_COMPLETED"
	StepImageGenerating      ProcessingStep = "IMAGE_GENERATING"
	StepImageCompleted       ProcessingStep = "IMAGE_COMPLETED"
	StepVideoRendering       ProcessingStep = "VIDEO_RENDERING"
	StepVideoRenderCompleted ProcessingStep = "VIDEO_RENDER_COMPLETED"
	StepVideoUploading       ProcessingStep = "VIDEO_UPLOADING"
)

var stepLabels = map[ProcessingStep]string{
	StepScriptProcessing:     "Processing script",
	StepVoiceGenerating:      "Generating AI voice",
	StepVoiceCompleted:       "AI voice ready",
	StepImageGenerating:      "Generating AI images",
	StepImageCompleted:       "AI images ready",
	StepVideoRendering:       "Merging video",
	StepVideoRenderCompleted: "Video merged",
	StepVideoUploading:       "Uploading video",
}

// Label returns display text for the step. Unknown steps read as "Processing".
func (p ProcessingStep) Label() string {
	if l, ok := stepLabels[p]; ok {
		return l
	}
	return "Processing"
}

// Known reports whether p is one of the enumerated steps.
func (p ProcessingStep) Known() bool {
	_, ok := stepLabels[p]
	return ok
}

// StatusUpdate is one status report for a job. Treat it as immutable.
type StatusUpdate struct {
	JobID          JobID          `json:"jobId"`
	Status         Status         `json:"status"`
	ProcessingStep ProcessingStep `json:"processingStep,omitempty"`
	ErrorMessage   string         `json:"errorMessage,omitempty"`
	VideoURL       string         `json:"videoUrl,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
}

// Text is the status line shown next to a job card.
func (u StatusUpdate) Text() string {
	switch u.Status {
	case StatusPending:
		return "Pending"
	case StatusProcessing:
		return u.ProcessingStep.Label()
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	default:
		return "Processing"
	}
}
