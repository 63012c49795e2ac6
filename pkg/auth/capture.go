package auth

import (
	"context"

	"github.com/entrhq/sessionpilot/pkg/capture"
)

// RequestCaptureStep routes the canonical API request of the target so it
// is recorded whenever the page issues it.
type RequestCaptureStep struct {
	env     Env
	capture *capture.Capture
}

// NewRequestCaptureStep creates the capture setup step.
func NewRequestCaptureStep(env Env, c *capture.Capture) *RequestCaptureStep {
	env = env.withDefaults()
	env.Log = env.Log.With("capture")
	return &RequestCaptureStep{env: env, capture: c}
}

func (s *RequestCaptureStep) Name() string   { return "request-capture-setup" }
func (s *RequestCaptureStep) Type() StepType { return PostSession }

// Execute installs the route. A failed installation is logged and does not
// fail the run.
func (s *RequestCaptureStep) Execute(ctx context.Context, run *Run) (bool, error) {
	if err := s.capture.Install(ctx, run.Page, run, run.MarkCaptured); err != nil {
		s.env.Log.Warnf("continuing without request capture: %v", err)
		return true, nil
	}
	s.env.Log.Infof("capturing requests matching %s", s.capture.Pattern())
	return true, nil
}
