package browser

import (
	"fmt"
	"io"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/sessionpilot/pkg/logging"
	"github.com/entrhq/sessionpilot/pkg/types"
)

const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 800
	DefaultTimeoutMs      = 30000
)

// LaunchOptions configures every page the launcher opens.
type LaunchOptions struct {
	Headless       bool
	ViewportWidth  int
	ViewportHeight int
	TimeoutMs      float64
	UserAgent      string

	// InstallDriver downloads the driver and browsers before starting
	InstallDriver bool
}

// Launcher owns the Playwright driver and opens one page per run.
type Launcher struct {
	mu          sync.Mutex
	playwright  *playwright.Playwright
	opts        LaunchOptions
	log         *logging.Logger
	initialized bool
}

// NewLauncher creates a launcher. Initialize must be called before Launch.
func NewLauncher(opts LaunchOptions, log *logging.Logger) *Launcher {
	if opts.ViewportWidth == 0 {
		opts.ViewportWidth = DefaultViewportWidth
	}
	if opts.ViewportHeight == 0 {
		opts.ViewportHeight = DefaultViewportHeight
	}
	if opts.TimeoutMs == 0 {
		opts.TimeoutMs = DefaultTimeoutMs
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Launcher{opts: opts, log: log}
}

// Initialize starts the Playwright driver.
func (l *Launcher) Initialize() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.initialized {
		return nil
	}

	runOpts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if l.opts.InstallDriver {
		if err := playwright.Install(runOpts); err != nil {
			return fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	l.playwright = pw
	l.initialized = true
	return nil
}

// Launch opens a browser, a fresh context and a page. When proxy is set all
// traffic of the page goes through it.
func (l *Launcher) Launch(proxy *types.ProxyConfig) (*PlaywrightPage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.initialized {
		return nil, fmt.Errorf("launcher not initialized")
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(l.opts.Headless),
		Args:     []string{"--disable-blink-features=AutomationControlled"},
	}
	if proxy != nil {
		launchOpts.Proxy = &playwright.Proxy{Server: proxy.Server()}
		if proxy.Username != "" {
			launchOpts.Proxy.Username = playwright.String(proxy.Username)
			launchOpts.Proxy.Password = playwright.String(proxy.Password)
		}
		l.log.Infof("launching browser through proxy %s", proxy.Server())
	}

	browser, err := l.playwright.Chromium.Launch(launchOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	contextOpts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  l.opts.ViewportWidth,
			Height: l.opts.ViewportHeight,
		},
	}
	if l.opts.UserAgent != "" {
		contextOpts.UserAgent = playwright.String(l.opts.UserAgent)
	}
	context, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := context.NewPage()
	if err != nil {
		context.Close()
		browser.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(l.opts.TimeoutMs)

	return NewPlaywrightPage(page, context, browser, l.opts.TimeoutMs, l.log.With("page")), nil
}

// Open is Launch behind the Page interface.
func (l *Launcher) Open(proxy *types.ProxyConfig) (Page, error) {
	page, err := l.Launch(proxy)
	if err != nil {
		return nil, err
	}
	return page, nil
}

// Shutdown stops the Playwright driver.
func (l *Launcher) Shutdown() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.initialized && l.playwright != nil {
		if err := l.playwright.Stop(); err != nil {
			return fmt.Errorf("failed to stop playwright: %w", err)
		}
		l.initialized = false
	}
	return nil
}
