package types

// CaptchaType names the challenge variant shown by the target application.
type CaptchaType string

const (
	CaptchaUnknown CaptchaType = "unknown"
	CaptchaShapes  CaptchaType = "shapes"
	CaptchaPuzzle  CaptchaType = "puzzle"
	CaptchaRotate  CaptchaType = "rotate"
)

// CaptchaDetection is the transient result of probing a page for a captcha.
type CaptchaDetection struct {
	Detected bool
	Type     CaptchaType
	Selector string

	// Evidence is a PNG of the challenge image, used for solving and diagnostics
	Evidence []byte
}
