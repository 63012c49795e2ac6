package captcha

import (
	"context"
	"errors"

	"github.com/entrhq/sessionpilot/pkg/types"
)

var (
	// ErrUnsupported is returned by a solver that cannot handle a variant.
	ErrUnsupported = errors.New("captcha: unsupported captcha type")

	// ErrSolverUnavailable wraps transport and remote failures of a solver.
	ErrSolverUnavailable = errors.New("captcha: solver unavailable")
)

// Point is a click target given as proportions of the challenge image size.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Valid reports whether the point lies within the image.
func (p Point) Valid() bool {
	return p.X >= 0 && p.X <= 1 && p.Y >= 0 && p.Y <= 1
}

// Solution is the ordered set of clicks that answers a challenge.
type Solution struct {
	Points []Point
}

// Solver answers a captcha from a screenshot of its image.
type Solver interface {
	Name() string
	Solve(ctx context.Context, kind types.CaptchaType, image []byte) (*Solution, error)
}

func validate(sol *Solution) error {
	if sol == nil || len(sol.Points) == 0 {
		return errors.New("captcha: empty solution")
	}
	for _, p := range sol.Points {
		if !p.Valid() {
			return errors.New("captcha: solution point outside image")
		}
	}
	return nil
}
