package browser

import (
	"errors"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/sessionpilot/pkg/logging"
	"github.com/entrhq/sessionpilot/pkg/types"
)

// PlaywrightPage adapts a playwright-go page to Page.
type PlaywrightPage struct {
	page      playwright.Page
	context   playwright.BrowserContext
	browser   playwright.Browser
	timeoutMs float64
	log       *logging.Logger
}

var _ Page = (*PlaywrightPage)(nil)

// NewPlaywrightPage wraps an already opened page. The context and browser are
// closed together with the page when non-nil.
func NewPlaywrightPage(page playwright.Page, context playwright.BrowserContext, browser playwright.Browser, timeoutMs float64, log *logging.Logger) *PlaywrightPage {
	if log == nil {
		log = logging.NewNop()
	}
	return &PlaywrightPage{page: page, context: context, browser: browser, timeoutMs: timeoutMs, log: log}
}

func ms(d time.Duration) *float64 {
	return playwright.Float(float64(d.Milliseconds()))
}

func (p *PlaywrightPage) Goto(url string) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(p.timeoutMs),
	})
	if err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (p *PlaywrightPage) URL() string {
	return p.page.URL()
}

func (p *PlaywrightPage) Count(selector string) (int, error) {
	return p.page.Locator(selector).Count()
}

func (p *PlaywrightPage) IsVisible(selector string, timeout time.Duration) (bool, error) {
	loc := p.page.Locator(selector).First()
	if timeout <= 0 {
		// a zero timeout means "wait forever" to Playwright
		return loc.IsVisible()
	}
	err := loc.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: ms(timeout),
	})
	if err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (p *PlaywrightPage) WaitVisible(selector string, timeout time.Duration) error {
	err := p.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: ms(timeout),
	})
	if err != nil {
		return fmt.Errorf("wait failed: %w", err)
	}
	return nil
}

func (p *PlaywrightPage) Text(selector string) (string, error) {
	return p.page.Locator(selector).First().TextContent()
}

func (p *PlaywrightPage) BoundingBox(selector string) (*Box, error) {
	rect, err := p.page.Locator(selector).First().BoundingBox()
	if err != nil {
		return nil, err
	}
	if rect == nil {
		return nil, fmt.Errorf("element %q has no bounding box", selector)
	}
	return &Box{X: rect.X, Y: rect.Y, Width: rect.Width, Height: rect.Height}, nil
}

func (p *PlaywrightPage) Click(selector string) error {
	if err := p.page.Locator(selector).First().Click(); err != nil {
		return fmt.Errorf("click failed: %w", err)
	}
	return nil
}

func (p *PlaywrightPage) Fill(selector, value string) error {
	if err := p.page.Locator(selector).First().Fill(value); err != nil {
		return fmt.Errorf("fill failed: %w", err)
	}
	return nil
}

func (p *PlaywrightPage) Type(text string) error {
	return p.page.Keyboard().Type(text)
}

func (p *PlaywrightPage) PressKey(key string) error {
	return p.page.Keyboard().Press(key)
}

func (p *PlaywrightPage) MouseClick(x, y float64) error {
	return p.page.Mouse().Click(x, y)
}

func (p *PlaywrightPage) Evaluate(expression string, arg any) (any, error) {
	if arg == nil {
		return p.page.Evaluate(expression)
	}
	return p.page.Evaluate(expression, arg)
}

func (p *PlaywrightPage) Screenshot(fullPage bool) ([]byte, error) {
	return p.page.Screenshot(playwright.PageScreenshotOptions{FullPage: playwright.Bool(fullPage)})
}

func (p *PlaywrightPage) ElementScreenshot(selector string) ([]byte, error) {
	return p.page.Locator(selector).First().Screenshot()
}

// Route continues every matching request before handing a snapshot to the
// handler. A panicking handler is logged and otherwise ignored.
func (p *PlaywrightPage) Route(pattern string, handler RouteHandler) error {
	return p.page.Route(pattern, func(route playwright.Route) {
		req := route.Request()
		snapshot := InterceptedRequest{
			Method:  req.Method(),
			URL:     req.URL(),
			Headers: req.Headers(),
		}
		if body, err := req.PostData(); err == nil {
			snapshot.PostData = body
		}

		if err := route.Continue(); err != nil {
			p.log.Warnf("route continue failed for %s: %v", snapshot.URL, err)
		}

		defer func() {
			if r := recover(); r != nil {
				p.log.Errorf("route handler panicked for %s: %v", snapshot.URL, r)
			}
		}()
		handler(snapshot)
	})
}

func (p *PlaywrightPage) ClearCookies() error {
	return p.page.Context().ClearCookies()
}

func (p *PlaywrightPage) AddCookies(cookies []types.Cookie) error {
	optional := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, c := range cookies {
		oc := playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   playwright.String(c.Domain),
			Path:     playwright.String(c.Path),
			HttpOnly: playwright.Bool(c.HTTPOnly),
			Secure:   playwright.Bool(c.Secure),
		}
		if c.Path == "" {
			oc.Path = playwright.String("/")
		}
		if c.Expires > 0 {
			oc.Expires = playwright.Float(c.Expires)
		}
		if ss := sameSite(c.SameSite); ss != nil {
			oc.SameSite = ss
		}
		optional = append(optional, oc)
	}
	return p.page.Context().AddCookies(optional)
}

func (p *PlaywrightPage) StorageState() (types.StorageState, error) {
	state, err := p.page.Context().StorageState()
	if err != nil {
		return types.StorageState{}, fmt.Errorf("failed to read storage state: %w", err)
	}

	out := types.StorageState{}
	for _, c := range state.Cookies {
		cookie := types.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
		}
		if c.SameSite != nil {
			cookie.SameSite = string(*c.SameSite)
		}
		out.Cookies = append(out.Cookies, cookie)
	}
	for _, o := range state.Origins {
		origin := types.OriginStorage{Origin: o.Origin, LocalStorage: make(map[string]string, len(o.LocalStorage))}
		for _, kv := range o.LocalStorage {
			origin.LocalStorage[kv.Name] = kv.Value
		}
		out.Origins = append(out.Origins, origin)
	}
	return out, nil
}

func (p *PlaywrightPage) UserAgent() (string, error) {
	v, err := p.page.Evaluate("() => navigator.userAgent")
	if err != nil {
		return "", err
	}
	ua, _ := v.(string)
	return ua, nil
}

// Close releases the page, its context and its browser, ignoring
// errors from the later stages.
func (p *PlaywrightPage) Close() error {
	err := p.page.Close()
	if p.context != nil {
		_ = p.context.Close()
	}
	if p.browser != nil {
		_ = p.browser.Close()
	}
	return err
}

func sameSite(v string) *playwright.SameSiteAttribute {
	switch v {
	case "Strict":
		return playwright.SameSiteAttributeStrict
	case "Lax":
		return playwright.SameSiteAttributeLax
	case "None":
		return playwright.SameSiteAttributeNone
	default:
		return nil
	}
}
