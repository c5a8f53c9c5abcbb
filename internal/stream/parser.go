package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"job-status-stream/internal/entity"
)

var (
	// ErrAcknowledgement marks the "connect" frame the server sends after opening.
	ErrAcknowledgement = errors.New("connect acknowledgement")
	// ErrServerError marks a textual "error" frame pushed by the server.
	ErrServerError = errors.New("server error frame")
	// ErrMalformedFrame marks a frame that does not carry a usable status update.
	ErrMalformedFrame = errors.New("malformed frame")
)

const (
	eventConnect = "connect"
	eventError   = "error"
)

// backend timestamps are LocalDateTime values without a zone
var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

type wireStatus struct {
	StoryID        string `json:"storyId"`
	Status         string `json:"status"`
	CreatedAt      string `json:"createdAt"`
	ProcessingStep string `json:"processing_step"`
	StepCamel      string `json:"processingStep"`
	ErrorMessage   string `json:"errorMessage"`
	VideoURL       string `json:"videoUrl"`
}

// Parser turns frames into status updates.
type Parser struct {
	now func() time.Time
}

func NewParser(now func() time.Time) *Parser {
	if now == nil {
		now = time.Now
	}
	return &Parser{now: now}
}

// Parse decodes a frame received on jobID's connection. Frames that carry no update
// return ErrAcknowledgement, ErrServerError or ErrMalformedFrame.
func (p *Parser) Parse(jobID entity.JobID, f Frame) (entity.StatusUpdate, error) {
	switch f.Event {
	case eventConnect:
		return entity.StatusUpdate{}, ErrAcknowledgement
	case eventError:
		return entity.StatusUpdate{}, fmt.Errorf("%w: %s", ErrServerError, strings.TrimSpace(f.Data))
	}

	var w wireStatus
	if err := json.Unmarshal([]byte(f.Data), &w); err != nil {
		return entity.StatusUpdate{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	status := entity.Status(strings.ToUpper(strings.TrimSpace(w.Status)))
	if !status.Valid() {
		return entity.StatusUpdate{}, fmt.Errorf("%w: unknown status %q", ErrMalformedFrame, w.Status)
	}
	if w.StoryID != "" && entity.JobID(w.StoryID) != jobID {
		return entity.StatusUpdate{}, fmt.Errorf("%w: frame for %s on %s stream", ErrMalformedFrame, w.StoryID, jobID)
	}

	u := entity.StatusUpdate{
		JobID:        jobID,
		Status:       status,
		ErrorMessage: w.ErrorMessage,
		VideoURL:     w.VideoURL,
		OccurredAt:   p.occurredAt(w.CreatedAt),
	}
	if status == entity.StatusProcessing {
		step := w.ProcessingStep
		if step == "" {
			step = w.StepCamel
		}
		u.ProcessingStep = entity.ProcessingStep(step)
	}
	return u, nil
}

func (p *Parser) occurredAt(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw != "" {
		for _, layout := range createdAtLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t
			}
		}
	}
	return p.now()
}
