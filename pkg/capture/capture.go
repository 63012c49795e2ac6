// Package capture records the live authenticated API request the target
// application issues, so a downstream client can replay it.
package capture

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"

	"github.com/entrhq/sessionpilot/pkg/browser"
	"github.com/entrhq/sessionpilot/pkg/logging"
	"github.com/entrhq/sessionpilot/pkg/store"
	"github.com/entrhq/sessionpilot/pkg/types"
)

// DefaultPattern is the canonical data endpoint of the target application.
const DefaultPattern = "**/creative_radar_api/v1/top_ads/v2/list**"

// DefaultAPIVersion is used when the request path carries no version segment.
const DefaultAPIVersion = "v1"

var versionSegment = regexp.MustCompile(`^v\d+$`)

// Binding connects captured configurations to the session of a run. The
// session may not exist yet when the first request is captured.
type Binding interface {
	// SessionID returns the id of the run's session, or "" if none is bound.
	SessionID() string

	// AddPendingConfig remembers a config to link once a session is persisted.
	AddPendingConfig(id int64)
}

// Options configures a Capture.
type Options struct {
	// Pattern is the glob of request URLs to record. Defaults to DefaultPattern
	Pattern string

	// UpdateFrequency is stored with every new configuration
	UpdateFrequency time.Duration

	// Dir receives a JSON dump and a curl script per new configuration.
	// Dumps are skipped when empty
	Dir string
}

// Capture intercepts matching requests on a page.
type Capture struct {
	pattern   string
	matcher   glob.Glob
	frequency time.Duration
	repo      store.Repository
	dumper    *Dumper
	log       *logging.Logger
	now       func() time.Time
}

// New creates a Capture.
func New(repo store.Repository, opts Options, log *logging.Logger) (*Capture, error) {
	if opts.Pattern == "" {
		opts.Pattern = DefaultPattern
	}
	if opts.UpdateFrequency <= 0 {
		opts.UpdateFrequency = types.DefaultUpdateFrequency
	}
	matcher, err := glob.Compile(opts.Pattern)
	if err != nil {
		return nil, fmt.Errorf("capture: invalid pattern %q: %w", opts.Pattern, err)
	}
	if log == nil {
		log = logging.NewNop()
	}
	c := &Capture{
		pattern:   opts.Pattern,
		matcher:   matcher,
		frequency: opts.UpdateFrequency,
		repo:      repo,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if opts.Dir != "" {
		c.dumper = NewDumper(opts.Dir)
	}
	return c, nil
}

// Pattern returns the routed glob.
func (c *Capture) Pattern() string { return c.pattern }

// Matches reports whether a URL is captured.
func (c *Capture) Matches(rawURL string) bool {
	return c.matcher.Match(rawURL)
}

// Install routes the pattern on page. onFirst runs once, on the first
// matching request of this installation; later requests are still recorded.
func (c *Capture) Install(ctx context.Context, page browser.Page, binding Binding, onFirst func()) error {
	var once sync.Once
	handler := func(req browser.InterceptedRequest) {
		if !c.matcher.Match(req.URL) {
			return
		}
		once.Do(func() {
			c.log.Infof("first API request intercepted: %s", req.URL)
			if onFirst != nil {
				onFirst()
			}
		})
		if err := c.Record(ctx, req, binding); err != nil {
			c.log.Errorf("failed to record request %s: %v", req.URL, err)
		}
	}
	if err := page.Route(c.pattern, handler); err != nil {
		return fmt.Errorf("capture: route %s: %w", c.pattern, err)
	}
	return nil
}

// Record stores the configuration of one request and links it to the
// binding's session, or marks it pending when no session is bound yet.
func (c *Capture) Record(ctx context.Context, req browser.InterceptedRequest, binding Binding) error {
	cfg, err := c.Config(req)
	if err != nil {
		return err
	}

	id, created, err := c.repo.UpsertAPIConfig(ctx, cfg)
	if err != nil {
		return err
	}
	cfg.ID = id

	if binding != nil {
		if sid := binding.SessionID(); sid != "" {
			if err := c.repo.LinkAPIConfig(ctx, id, sid); err != nil {
				return err
			}
		} else {
			binding.AddPendingConfig(id)
		}
	}

	if created {
		c.log.Infof("captured new API config %d (%s)", id, cfg.APIVersion)
		if c.dumper != nil {
			if _, err := c.dumper.Dump(cfg, req.PostData); err != nil {
				c.log.Warnf("failed to dump captured request: %v", err)
			}
		}
	} else {
		c.log.Debugf("API config %d already captured", id)
	}
	return nil
}

// Config derives the configuration of a request.
func (c *Capture) Config(req browser.InterceptedRequest) (*types.CapturedAPIConfig, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("capture: parse url: %w", err)
	}
	query := make(map[string]string)
	for k, v := range u.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}
	headers := make(map[string]string, len(req.Headers))
	for k, v := range req.Headers {
		headers[k] = v
	}
	return &types.CapturedAPIConfig{
		APIVersion: APIVersion(u.Path),
		Parameters: types.RequestParameters{
			Method:  strings.ToUpper(req.Method),
			URL:     req.URL,
			Headers: headers,
			Query:   query,
		},
		IsActive:        true,
		UpdateFrequency: c.frequency,
		CreatedAt:       c.now(),
	}, nil
}

// APIVersion returns the first path segment shaped like v<digits>.
func APIVersion(path string) string {
	for _, seg := range strings.Split(path, "/") {
		if versionSegment.MatchString(seg) {
			return seg
		}
	}
	return DefaultAPIVersion
}
