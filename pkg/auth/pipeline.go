package auth

import (
	"context"
	"errors"
	"runtime/debug"

	"github.com/entrhq/sessionpilot/pkg/browser"
	"github.com/entrhq/sessionpilot/pkg/logging"
	"github.com/entrhq/sessionpilot/pkg/types"
)

// Result summarizes a successful pipeline execution.
type Result struct {
	Restored bool
	Session  *types.Session

	Executed []string
	Skipped  []string

	// Recovered lists the non-critical failures the pipeline continued past
	Recovered []*StepFailure
}

// Pipeline runs steps in order. There is no rollback and no retry: the
// first failing step ends the execution.
type Pipeline struct {
	steps []Step
	shots *browser.Screenshotter
	log   *logging.Logger
}

// NewPipeline creates a pipeline. shots may be nil to disable failure
// screenshots.
func NewPipeline(steps []Step, shots *browser.Screenshotter, log *logging.Logger) *Pipeline {
	if log == nil {
		log = logging.NewNop()
	}
	return &Pipeline{steps: steps, shots: shots, log: log}
}

// Steps returns the configured steps in execution order.
func (p *Pipeline) Steps() []Step {
	return append([]Step(nil), p.steps...)
}

// Execute runs every step against page for creds.
func (p *Pipeline) Execute(ctx context.Context, page browser.Page, creds types.Credentials) (*Result, error) {
	return p.ExecuteRun(ctx, NewRun(page, creds))
}

// ExecuteRun runs every step with caller-provided run state. A failure is
// returned as a *StepFailure together with the partial result.
func (p *Pipeline) ExecuteRun(ctx context.Context, run *Run) (*Result, error) {
	res := &Result{}

	for _, step := range p.steps {
		name := step.Name()
		if err := ctx.Err(); err != nil {
			return res, &StepFailure{Step: name, Kind: ErrCriticalStep, Reason: "run cancelled", Err: err}
		}

		if run.Restored() && step.Type() == Login {
			p.log.Debugf("skipping %s: session restored", name)
			res.Skipped = append(res.Skipped, name)
			continue
		}

		p.log.Infof("executing step %s (%s)", name, step.Type())
		ok, err := p.runStep(ctx, step, run)
		res.Executed = append(res.Executed, name)

		if step.Type() == PreSession {
			if ok && err == nil {
				run.setRestored()
				res.Restored = true
				p.log.Infof("session restored by %s", name)
			} else {
				p.log.Infof("no session restored by %s, continuing with login: %v", name, describe(ok, err))
			}
			continue
		}

		if ok && err == nil {
			continue
		}

		failure := p.failure(name, ok, err)
		if errors.Is(failure.Kind, ErrUIMismatch) && ctx.Err() == nil {
			p.log.Warnf("%v (continuing)", failure)
			res.Recovered = append(res.Recovered, failure)
			continue
		}

		p.log.Errorf("%v", failure)
		if path, serr := p.shots.Capture(run.Page, "failure-"+name); serr != nil {
			p.log.Warnf("failed to capture failure screenshot: %v", serr)
		} else if path != "" {
			failure.Screenshot = path
			p.log.Infof("failure screenshot saved to %s", path)
		}
		return res, failure
	}

	res.Session = run.Session()
	return res, nil
}

// runStep executes step and converts a panic into an error.
func (p *Pipeline) runStep(ctx context.Context, step Step, run *Run) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorf("step %s panicked: %v\n%s", step.Name(), r, debug.Stack())
			ok = false
			err = fail(ErrCriticalStep, nil, "panic: %v", r)
		}
	}()
	return step.Execute(ctx, run)
}

func (p *Pipeline) failure(name string, ok bool, err error) *StepFailure {
	var sf *StepFailure
	if errors.As(err, &sf) {
		if sf.Step == "" {
			sf.Step = name
		}
		if sf.Kind == nil {
			sf.Kind = ErrCriticalStep
		}
		return sf
	}
	if err != nil {
		return &StepFailure{Step: name, Kind: ErrCriticalStep, Reason: "step error", Err: err}
	}
	return &StepFailure{Step: name, Kind: ErrCriticalStep, Reason: "step reported failure"}
}

func describe(ok bool, err error) string {
	switch {
	case err != nil:
		return err.Error()
	case !ok:
		return "step returned false"
	default:
		return "ok"
	}
}
