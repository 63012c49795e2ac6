package auth

import (
	"time"

	"github.com/entrhq/sessionpilot/pkg/browser"
)

// Selectors lists the locator strategies of every step. Each list is tried
// in order and the first visible match is used.
type Selectors struct {
	LoggedIn []string

	CookieBanner   []string
	CookieAllow    []string
	CookieFallback []string

	LoginEntry  []string
	LoginModal  []string
	LoginMethod []string

	EmailInput    []string
	PasswordInput []string
	Submit        []string
	LoginError    []string

	EmailChallenge []string
	CodeInput      []string
	CodeSubmit     []string
	CodeAccepted   []string
}

// DefaultSelectors targets the TikTok Creative Center login flow.
func DefaultSelectors() *Selectors {
	return &Selectors{
		LoggedIn: []string{
			`div[data-testid="cc_header_userInfo"]`,
			`div[id="HeaderLoginUserProfile"]`,
			`div[class*="UserDropDown_trigger"]`,
			`div[class*="DefaultAvatar_wrapper"]`,
			`img[class*="avatar"]`,
			`div[class*="avatar"]`,
		},

		CookieBanner: []string{`div.tiktok-cookie-banner`},
		CookieAllow: []string{
			`div.tiktok-cookie-banner button:has-text("Allow all")`,
			`button:has-text("Allow all")`,
		},
		CookieFallback: []string{`div.tiktok-cookie-banner button`},

		LoginEntry: []string{
			`div[data-testid="cc_header_login"]`,
			`div[class*="FixedHeaderPc_loginBtn"]`,
		},
		LoginModal: []string{`div[class*="LoginModal_main"]`},
		LoginMethod: []string{
			`div[class*="Button_loginBtn"]:has-text("Log in with phone/email")`,
			`div[class*="Button_loginBtn"]:has(img[alt="Phone/Email Login"])`,
			`div[class*="LoginSelection_loginSelection"] div[class*="Button_loginBtn"] >> nth=-1`,
		},

		EmailInput: []string{
			`#TikTok_Ads_SSO_Login_Email_Input`,
			`input[type="email"]`,
			`input[name="email"]`,
			`input[placeholder*="mail"]`,
			`input[class*="email"]`,
		},
		PasswordInput: []string{
			`#TikTok_Ads_SSO_Login_Pwd_Input`,
			`.tiktokads-common-login-form-password input`,
			`input[type="password"]`,
			`input[name="password"]`,
			`input[placeholder*="assword"]`,
		},
		Submit: []string{
			`#TikTok_Ads_SSO_Login_Btn`,
			`button[name="loginBtn"]`,
			`button.tiktokads-common-login-form-submit`,
			`button[data-e2e="login-button"]`,
			`button[type="submit"]`,
			`button:has-text("Log in")`,
			`button:has-text("Login")`,
			`button:has-text("Sign in")`,
		},
		LoginError: []string{
			`.tiktokads-common-login-form-error`,
			`[data-e2e="login-error"]`,
			`.login-error`,
			`.error-message`,
			`p:has-text("incorrect")`,
			`p:has-text("Invalid")`,
		},

		EmailChallenge: []string{
			`#TikTok_Ads_SSO_Login_Code_Content`,
			`div.tiktokads-common-login-code-form`,
			`input[placeholder="Enter verification code"]`,
			`div:has-text("For security reasons, a verification code has been sent to")`,
		},
		CodeInput: []string{
			`#TikTok_Ads_SSO_Login_Code_Input`,
			`#TikTok_Ads_SSO_Code_Code_Input`,
			`input[name="code"]`,
			`input[placeholder="Enter verification code"]`,
			`input[placeholder="Verification code"]`,
			`input.verification-code-input`,
		},
		CodeSubmit: []string{
			`#TikTok_Ads_SSO_Login_Code_Btn`,
			`button[name="CodeloginBtn"]`,
			`button.btn.primary`,
		},
		CodeAccepted: []string{`div:has-text("Verification successful")`},
	}
}

// Timing bounds the waits of the steps.
type Timing struct {
	// Probe is the visibility timeout of a single locator strategy
	Probe time.Duration

	// RestoreProbes are the increasing timeouts of the login-indicator
	// retries after a restore
	RestoreProbes []time.Duration

	// Settle follows clicks that open or close page elements
	Settle browser.Range

	BeforeSubmit browser.Range
	AfterSubmit  browser.Range

	// CodeTimeout and CodeInterval drive the mailbox poll
	CodeTimeout  time.Duration
	CodeInterval time.Duration

	// CodeAccepted bounds the check that an entered code was accepted
	CodeAccepted time.Duration
	CodePoll     time.Duration
}

// DefaultTiming returns production waits.
func DefaultTiming() Timing {
	return Timing{
		Probe:         2 * time.Second,
		RestoreProbes: []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second},
		Settle:        browser.Range{Min: time.Second, Max: 2 * time.Second},
		BeforeSubmit:  browser.Range{Min: 500 * time.Millisecond, Max: 1500 * time.Millisecond},
		AfterSubmit:   browser.Range{Min: 3 * time.Second, Max: 5 * time.Second},
		CodeTimeout:   time.Minute,
		CodeInterval:  5 * time.Second,
		CodeAccepted:  20 * time.Second,
		CodePoll:      500 * time.Millisecond,
	}
}
