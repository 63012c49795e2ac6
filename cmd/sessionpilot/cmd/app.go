package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/entrhq/sessionpilot/pkg/auth"
	"github.com/entrhq/sessionpilot/pkg/browser"
	"github.com/entrhq/sessionpilot/pkg/captcha"
	"github.com/entrhq/sessionpilot/pkg/capture"
	"github.com/entrhq/sessionpilot/pkg/config"
	"github.com/entrhq/sessionpilot/pkg/logging"
	"github.com/entrhq/sessionpilot/pkg/mail"
	"github.com/entrhq/sessionpilot/pkg/session"
	"github.com/entrhq/sessionpilot/pkg/store"
	"github.com/entrhq/sessionpilot/pkg/types"
)

const redisKeyPrefix = "sessionpilot:"

// app holds the collaborators shared by every command.
type app struct {
	cfg      *config.Config
	log      *logging.Logger
	repo     *store.SQLiteStore
	redis    *redis.Client
	sessions *session.Store
}

func openApp(component string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logging.New(component, logging.Options{
		Dir:   cfg.Logging.Dir,
		Level: logging.ParseLevel(cfg.Logging.Level),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, logging to stderr\n", err)
	}

	repo, err := store.NewSQLite(cfg.Storage.DatabasePath)
	if err != nil {
		log.Close()
		return nil, err
	}
	files, err := session.NewFileStore(cfg.Storage.SessionDir)
	if err != nil {
		repo.Close()
		log.Close()
		return nil, err
	}

	a := &app{cfg: cfg, log: log, repo: repo}
	opts := []session.Option{session.WithLogger(log.With("session"))}
	if cfg.Storage.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
		})
		opts = append(opts, session.WithCache(session.NewRedisCache(a.redis, redisKeyPrefix)))
	}
	a.sessions = session.NewStore(files, repo, opts...)
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, a.repo.Close(), a.log.Close())
	return errors.Join(errs...)
}

func (a *app) humanizer() *browser.Humanizer {
	h := a.cfg.Human
	return browser.NewHumanizer(
		browser.Range{Min: h.KeyDelayMin, Max: h.KeyDelayMax},
		browser.Range{Min: h.FieldPauseMin, Max: h.FieldPauseMax},
		0,
	)
}

func (a *app) launcher() *browser.Launcher {
	b := a.cfg.Browser
	return browser.NewLauncher(browser.LaunchOptions{
		Headless:       b.Headless,
		ViewportWidth:  b.ViewportWidth,
		ViewportHeight: b.ViewportHeight,
		TimeoutMs:      b.TimeoutMs,
		UserAgent:      b.UserAgent,
		InstallDriver:  b.InstallDriver,
	}, a.log.With("browser"))
}

// solver returns the remote captcha solver, or nil in manual mode.
func (a *app) solver() (captcha.Solver, error) {
	c := a.cfg.Captcha
	if c.Mode != config.CaptchaModeAuto {
		return nil, nil
	}
	if c.Solver == config.SolverOpenAI {
		opts := []captcha.OpenAIOption{captcha.WithModel(c.OpenAIModel)}
		if c.OpenAIBaseURL != "" {
			opts = append(opts, captcha.WithBaseURL(c.OpenAIBaseURL))
		}
		vision, err := captcha.NewOpenAIVision(c.OpenAIAPIKey, opts...)
		if err != nil {
			return nil, err
		}
		return vision, nil
	}
	sad, err := captcha.NewSadCaptcha(c.SadCaptchaAPIKey, captcha.WithSadCaptchaURL(c.SadCaptchaURL))
	if err != nil {
		return nil, err
	}
	return sad, nil
}

func (a *app) captchaResolver(env auth.Env) (*captcha.Resolver, error) {
	solver, err := a.solver()
	if err != nil {
		return nil, err
	}
	c := a.cfg.Captcha
	opts := captcha.DefaultOptions()
	opts.Mode = captcha.Mode(c.Mode)
	opts.Window = c.Window
	opts.Interval = c.PollInterval
	opts.ScreenshotEvery = c.ScreenshotEvery
	opts.MaxSolveAttempts = c.MaxSolveAttempts
	opts.SuccessSelectors = env.Selectors.EmailChallenge
	return captcha.NewResolver(opts, solver, env.Humanizer, env.Shots, a.log.With("captcha"))
}

// mailResolver returns the resolver of one mailbox.
func (a *app) mailResolver(mb config.MailboxConfig) (*mail.Resolver, error) {
	e := a.cfg.Email
	box, err := mail.NewIMAPMailbox(mail.IMAPConfig{
		Host:               mb.IMAPHost,
		Port:               mb.IMAPPort,
		Username:           mb.Username,
		Password:           mb.Password,
		CommandTimeout:     e.Timeout,
		InsecureSkipVerify: e.InsecureSkipVerify,
	})
	if err != nil {
		return nil, err
	}
	return mail.NewResolver(box, a.repo, mail.Options{Sender: e.Sender, Folder: mb.Folder}, a.log.With("mail"))
}

// mailDirectory binds every configured mailbox to its account, with the
// email section as the fallback. It returns nil when no mailbox is configured.
func (a *app) mailDirectory() (*mail.Directory, error) {
	var fallback *mail.Resolver
	if a.cfg.HasMailbox() {
		r, err := a.mailResolver(a.cfg.DefaultMailbox())
		if err != nil {
			return nil, err
		}
		fallback = r
	}
	dir := mail.NewDirectory(fallback)
	for account, mb := range a.cfg.Mailboxes() {
		if mb == a.cfg.DefaultMailbox() && fallback != nil {
			continue
		}
		r, err := a.mailResolver(mb)
		if err != nil {
			return nil, fmt.Errorf("mailbox of %s: %w", account, err)
		}
		dir.Add(account, r)
	}
	if dir.Len() == 0 {
		return nil, nil
	}
	return dir, nil
}

// credentialsFor resolves a configured account for the refresher.
func (a *app) credentialsFor(account string) (types.Credentials, bool) {
	creds, ok, err := a.cfg.CredentialsFor(account)
	if err != nil {
		a.log.Warnf("invalid credentials for %s: %v", account, err)
		return types.Credentials{}, false
	}
	return creds, ok && creds.Password != ""
}

// authenticator wires the pipeline for opener.
func (a *app) authenticator(opener auth.Opener) (*auth.Authenticator, error) {
	timing := auth.DefaultTiming()
	timing.CodeTimeout = a.cfg.Email.Timeout
	timing.CodeInterval = a.cfg.Email.PollInterval
	if a.cfg.Email.SuccessTimeout > 0 {
		timing.CodeAccepted = a.cfg.Email.SuccessTimeout
	}
	env := auth.Env{
		Selectors: auth.DefaultSelectors(),
		Timing:    timing,
		Humanizer: a.humanizer(),
		Shots:     browser.NewScreenshotter(a.cfg.Storage.ScreenshotDir),
		Log:       a.log,
	}

	resolver, err := a.captchaResolver(env)
	if err != nil {
		return nil, err
	}
	rec, err := capture.New(a.repo, capture.Options{
		Pattern:         a.cfg.Target.APIPattern,
		UpdateFrequency: a.cfg.Target.UpdateFrequency,
		Dir:             a.cfg.Storage.CaptureDir,
	}, a.log.With("capture"))
	if err != nil {
		return nil, err
	}

	deps := auth.Dependencies{
		Env:      env,
		Sessions: a.sessions,
		Capture:  rec,
		Detector: captcha.NewDetector(nil, captcha.DefaultProbeTimeout),
		Captcha:  resolver,
	}
	codes, err := a.mailDirectory()
	if err != nil {
		return nil, err
	}
	if codes != nil {
		deps.Codes = codes
	}

	return auth.NewAuthenticator(opener, auth.Config{
		LoginURL:        a.cfg.Target.LoginURL,
		TargetURL:       a.cfg.Target.TargetURL,
		SessionIDPrefix: a.cfg.Target.SessionIDPrefix,
		NaturalScroll:   a.cfg.Target.NaturalScroll,
		Scroll:          auth.DefaultScrollOptions(),
	}, deps)
}
