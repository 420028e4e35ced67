package source

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// Simulated emits one synthetic motion event per Fetch. It drives the
// camera pipeline without a real camera.
type Simulated struct {
	camera string
	now    func() time.Time
}

// NewSimulated creates a simulated motion source for the named camera.
func NewSimulated(camera string) *Simulated {
	if camera == "" {
		camera = "Front Door"
	}
	return &Simulated{camera: camera, now: time.Now}
}

func (s *Simulated) Name() string { return "wyze-simulated" }

// Fetch implements Source. Every call yields a new event id.
func (s *Simulated) Fetch(context.Context) ([]Event, error) {
	now := s.now()
	return []Event{{
		SourceID:  ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Title:     s.camera,
		Detail:    "motion_detected",
		Timestamp: now.Format(clockLayout),
	}}, nil
}
