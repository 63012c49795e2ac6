// Package browsertest provides an in-memory browser.Page for tests.
package browsertest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gobwas/glob"

	"github.com/entrhq/sessionpilot/pkg/browser"
	"github.com/entrhq/sessionpilot/pkg/types"
)

// ErrNoElement is returned for interactions with a selector that matches nothing.
var ErrNoElement = errors.New("browsertest: no element")

// Element is the fake state behind one selector.
type Element struct {
	Visible bool
	Text    string
	Box     browser.Box
	Image   []byte
}

type route struct {
	matcher glob.Glob
	handler browser.RouteHandler
}

// FakePage is a scriptable browser.Page. The zero value is not usable; call New.
type FakePage struct {
	mu sync.Mutex

	url      string
	elements map[string]*Element
	onClick  map[string]func(p *FakePage)
	onGoto   func(p *FakePage, url string)
	routes   []route

	cookies     []types.Cookie
	origins     []types.OriginStorage
	userAgent   string
	screenshot  []byte
	evaluations []string

	// EvaluateFunc overrides Evaluate when set.
	EvaluateFunc func(expression string, arg any) (any, error)

	// Errors injected per method name, e.g. "Screenshot" or "Route".
	Errors map[string]error

	Clicks      []string
	MouseClicks [][2]float64
	Filled      map[string]string
	Typed       string
	Keys        []string
	Visited     []string
	Closed      bool
}

var _ browser.Page = (*FakePage)(nil)

// New creates an empty page at about:blank.
func New() *FakePage {
	return &FakePage{
		url:        "about:blank",
		elements:   make(map[string]*Element),
		onClick:    make(map[string]func(p *FakePage)),
		Errors:     make(map[string]error),
		Filled:     make(map[string]string),
		userAgent:  "Mozilla/5.0 (browsertest)",
		screenshot: []byte("png"),
	}
}

// Set places an element under selector.
func (p *FakePage) Set(selector string, el Element) *FakePage {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := el
	p.elements[selector] = &e
	return p
}

// Show places a visible element under selector.
func (p *FakePage) Show(selector string) *FakePage {
	return p.Set(selector, Element{Visible: true, Box: browser.Box{Width: 100, Height: 40}})
}

// Remove deletes the element under selector.
func (p *FakePage) Remove(selector string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.elements, selector)
}

// Has reports whether selector currently matches.
func (p *FakePage) Has(selector string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.elements[selector]
	return ok
}

// OnClick registers a hook run after selector is clicked.
func (p *FakePage) OnClick(selector string, fn func(p *FakePage)) *FakePage {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onClick[selector] = fn
	return p
}

// OnGoto registers a hook run after every navigation.
func (p *FakePage) OnGoto(fn func(p *FakePage, url string)) *FakePage {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onGoto = fn
	return p
}

// SetURL changes the current URL without navigating.
func (p *FakePage) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

// SetStorage replaces the cookie jar and origin storage.
func (p *FakePage) SetStorage(state types.StorageState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies = append([]types.Cookie(nil), state.Cookies...)
	p.origins = append([]types.OriginStorage(nil), state.Origins...)
}

// Cookies returns a copy of the cookie jar.
func (p *FakePage) Cookies() []types.Cookie {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.Cookie(nil), p.cookies...)
}

// Evaluations returns every evaluated expression.
func (p *FakePage) Evaluations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.evaluations...)
}

// Fire delivers a request to every route whose pattern matches its URL.
func (p *FakePage) Fire(req browser.InterceptedRequest) int {
	p.mu.Lock()
	routes := append([]route(nil), p.routes...)
	p.mu.Unlock()

	delivered := 0
	for _, r := range routes {
		if r.matcher.Match(req.URL) {
			func() {
				defer func() { _ = recover() }()
				r.handler(req)
			}()
			delivered++
		}
	}
	return delivered
}

// RouteCount returns the number of installed routes.
func (p *FakePage) RouteCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.routes)
}

func (p *FakePage) injected(method string) error {
	return p.Errors[method]
}

func (p *FakePage) Goto(url string) error {
	p.mu.Lock()
	if err := p.injected("Goto"); err != nil {
		p.mu.Unlock()
		return err
	}
	p.url = url
	p.Visited = append(p.Visited, url)
	hook := p.onGoto
	p.mu.Unlock()

	if hook != nil {
		hook(p, url)
	}
	return nil
}

func (p *FakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *FakePage) Count(selector string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.injected("Count"); err != nil {
		return 0, err
	}
	if _, ok := p.elements[selector]; ok {
		return 1, nil
	}
	return 0, nil
}

func (p *FakePage) IsVisible(selector string, _ time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.injected("IsVisible"); err != nil {
		return false, err
	}
	el, ok := p.elements[selector]
	return ok && el.Visible, nil
}

func (p *FakePage) WaitVisible(selector string, timeout time.Duration) error {
	visible, err := p.IsVisible(selector, timeout)
	if err != nil {
		return err
	}
	if !visible {
		return fmt.Errorf("wait failed: %q: %w", selector, ErrNoElement)
	}
	return nil
}

func (p *FakePage) Text(selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.elements[selector]
	if !ok {
		return "", fmt.Errorf("%q: %w", selector, ErrNoElement)
	}
	return el.Text, nil
}

func (p *FakePage) BoundingBox(selector string) (*browser.Box, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.elements[selector]
	if !ok {
		return nil, fmt.Errorf("%q: %w", selector, ErrNoElement)
	}
	box := el.Box
	return &box, nil
}

func (p *FakePage) Click(selector string) error {
	p.mu.Lock()
	if err := p.injected("Click"); err != nil {
		p.mu.Unlock()
		return err
	}
	if _, ok := p.elements[selector]; !ok {
		p.mu.Unlock()
		return fmt.Errorf("click failed: %q: %w", selector, ErrNoElement)
	}
	p.Clicks = append(p.Clicks, selector)
	hook := p.onClick[selector]
	p.mu.Unlock()

	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *FakePage) Fill(selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.injected("Fill"); err != nil {
		return err
	}
	if _, ok := p.elements[selector]; !ok {
		return fmt.Errorf("fill failed: %q: %w", selector, ErrNoElement)
	}
	p.Filled[selector] = value
	return nil
}

func (p *FakePage) Type(text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.injected("Type"); err != nil {
		return err
	}
	p.Typed += text
	return nil
}

func (p *FakePage) PressKey(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Keys = append(p.Keys, key)
	return nil
}

func (p *FakePage) MouseClick(x, y float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.injected("MouseClick"); err != nil {
		return err
	}
	p.MouseClicks = append(p.MouseClicks, [2]float64{x, y})
	return nil
}

func (p *FakePage) Evaluate(expression string, arg any) (any, error) {
	p.mu.Lock()
	p.evaluations = append(p.evaluations, expression)
	fn := p.EvaluateFunc
	err := p.injected("Evaluate")
	if expression == browser.ClearStorageScript {
		p.origins = nil
	}
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(expression, arg)
	}
	return nil, nil
}

func (p *FakePage) Screenshot(bool) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.injected("Screenshot"); err != nil {
		return nil, err
	}
	return append([]byte(nil), p.screenshot...), nil
}

func (p *FakePage) ElementScreenshot(selector string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.injected("ElementScreenshot"); err != nil {
		return nil, err
	}
	el, ok := p.elements[selector]
	if !ok {
		return nil, fmt.Errorf("%q: %w", selector, ErrNoElement)
	}
	if el.Image != nil {
		return append([]byte(nil), el.Image...), nil
	}
	return append([]byte(nil), p.screenshot...), nil
}

func (p *FakePage) Route(pattern string, handler browser.RouteHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.injected("Route"); err != nil {
		return err
	}
	matcher, err := glob.Compile(pattern)
	if err != nil {
		return err
	}
	p.routes = append(p.routes, route{matcher: matcher, handler: handler})
	return nil
}

func (p *FakePage) ClearCookies() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies = nil
	return nil
}

func (p *FakePage) AddCookies(cookies []types.Cookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.injected("AddCookies"); err != nil {
		return err
	}
	p.cookies = append(p.cookies, cookies...)
	return nil
}

func (p *FakePage) StorageState() (types.StorageState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.injected("StorageState"); err != nil {
		return types.StorageState{}, err
	}
	return types.StorageState{
		Cookies: append([]types.Cookie(nil), p.cookies...),
		Origins: append([]types.OriginStorage(nil), p.origins...),
	}, nil
}

func (p *FakePage) UserAgent() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userAgent, nil
}

func (p *FakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}
