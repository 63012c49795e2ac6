package browser

import (
	"time"

	"github.com/entrhq/sessionpilot/pkg/types"
)

// Box is an element's bounding box in page coordinates.
type Box struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Point returns the absolute coordinate of a point given as proportions of
// the box size.
func (b Box) Point(px, py float64) (float64, float64) {
	return b.X + px*b.Width, b.Y + py*b.Height
}

// InterceptedRequest is a snapshot of a routed network request.
type InterceptedRequest struct {
	Method   string
	URL      string
	Headers  map[string]string
	PostData string
}

// RouteHandler observes intercepted requests. It runs after the request has
// been allowed to continue, so it can never delay or abort it.
type RouteHandler func(req InterceptedRequest)

// Page is the browser surface the authentication steps operate on.
type Page interface {
	// Goto navigates and waits for DOMContentLoaded.
	Goto(url string) error
	URL() string

	Count(selector string) (int, error)
	// IsVisible waits up to timeout for selector to become visible. A zero
	// timeout checks once.
	IsVisible(selector string, timeout time.Duration) (bool, error)
	WaitVisible(selector string, timeout time.Duration) error
	Text(selector string) (string, error)
	BoundingBox(selector string) (*Box, error)

	Click(selector string) error
	Fill(selector, value string) error
	// Type sends text to the focused element as individual key events.
	Type(text string) error
	PressKey(key string) error
	MouseClick(x, y float64) error

	Evaluate(expression string, arg any) (any, error)
	Screenshot(fullPage bool) ([]byte, error)
	ElementScreenshot(selector string) ([]byte, error)

	Route(pattern string, handler RouteHandler) error

	ClearCookies() error
	AddCookies(cookies []types.Cookie) error
	StorageState() (types.StorageState, error)
	UserAgent() (string, error)

	Close() error
}

// ClearStorageScript wipes web storage for the current origin.
const ClearStorageScript = `() => {
	try { window.localStorage.clear(); } catch (e) {}
	try { window.sessionStorage.clear(); } catch (e) {}
}`

// SetLocalStorageScript writes a map of entries into localStorage.
const SetLocalStorageScript = `(entries) => {
	for (const [k, v] of Object.entries(entries)) {
		window.localStorage.setItem(k, v);
	}
}`
