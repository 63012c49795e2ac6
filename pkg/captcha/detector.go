// Package captcha detects captcha challenges on the login page and waits for
// them to be resolved, either by a person or by a remote solver.
package captcha

import (
	"time"

	"github.com/entrhq/sessionpilot/pkg/browser"
	"github.com/entrhq/sessionpilot/pkg/types"
)

// Signature maps a selector to the challenge variant it reveals.
type Signature struct {
	Selector string
	Type     types.CaptchaType
}

// DefaultSignatures are probed in order; specific variants come before the
// generic containers.
var DefaultSignatures = []Signature{
	{Selector: `img#captcha-verify-image`, Type: types.CaptchaShapes},
	{Selector: `.captcha_verify_img_slide`, Type: types.CaptchaPuzzle},
	{Selector: `[data-testid="whirl-inner-img"]`, Type: types.CaptchaRotate},
	{Selector: `#captcha_container`, Type: types.CaptchaUnknown},
	{Selector: `.captcha_verify_container`, Type: types.CaptchaUnknown},
	{Selector: `div[class*="captcha-verify"]`, Type: types.CaptchaUnknown},
}

// DefaultProbeTimeout bounds each visibility check.
const DefaultProbeTimeout = time.Second

// Detector probes a page for known captcha signatures.
type Detector struct {
	signatures []Signature
	timeout    time.Duration
}

// NewDetector creates a detector. Nil signatures use DefaultSignatures.
func NewDetector(signatures []Signature, timeout time.Duration) *Detector {
	if signatures == nil {
		signatures = DefaultSignatures
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Detector{signatures: signatures, timeout: timeout}
}

// Detect returns the first visible signature. A screenshot of the element is
// attached as evidence when it can be taken.
func (d *Detector) Detect(page browser.Page) types.CaptchaDetection {
	for _, sig := range d.signatures {
		visible, err := page.IsVisible(sig.Selector, d.timeout)
		if err != nil || !visible {
			continue
		}
		det := types.CaptchaDetection{Detected: true, Type: sig.Type, Selector: sig.Selector}
		if img, err := page.ElementScreenshot(sig.Selector); err == nil {
			det.Evidence = img
		}
		return det
	}
	return types.CaptchaDetection{}
}
