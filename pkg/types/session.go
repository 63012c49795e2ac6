package types

import (
	"fmt"
	"strings"
	"time"
)

// SessionTTL is the fixed lifetime of every persisted session.
const SessionTTL = 24 * time.Hour

// ProxyConfig describes an upstream proxy used by the browser for a run.
type ProxyConfig struct {
	// Protocol is one of http, https, socks4 or socks5
	Protocol string `json:"protocol" yaml:"protocol"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username,omitempty" yaml:"username"`
	Password string `json:"password,omitempty" yaml:"password"`
}

// Server renders the proxy address in the form the browser expects.
func (p *ProxyConfig) Server() string {
	proto := p.Protocol
	if proto == "" {
		proto = "http"
	}
	return fmt.Sprintf("%s://%s:%d", proto, p.Host, p.Port)
}

// Credentials is the immutable input of an authentication run.
type Credentials struct {
	Email    string
	Password string

	// Proxy optionally routes the browser through an upstream proxy
	Proxy *ProxyConfig

	// SessionPath optionally points at a session blob to try before the
	// store is consulted
	SessionPath string
}

// AccountIdentity returns the normalized key sessions are stored under.
func (c Credentials) AccountIdentity() string {
	return strings.ToLower(strings.TrimSpace(c.Email))
}

// Cookie is a browser cookie as captured from the storage state.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// OriginStorage holds the localStorage entries of a single origin.
type OriginStorage struct {
	Origin       string            `json:"origin"`
	LocalStorage map[string]string `json:"localStorage"`
}

// StorageState is the full browser storage captured from a context.
type StorageState struct {
	Cookies []Cookie        `json:"cookies"`
	Origins []OriginStorage `json:"origins"`
}

// Session is an authenticated browser state plus the metadata needed to
// reuse it without an interactive login.
type Session struct {
	ID              string            `json:"id"`
	AccountIdentity string            `json:"accountIdentity"`
	Cookies         []Cookie          `json:"cookies"`
	Origins         []OriginStorage   `json:"origins,omitempty"`
	Headers         map[string]string `json:"headers"`
	CreatedAt       time.Time         `json:"createdAt"`
	ExpiresAt       time.Time         `json:"expiresAt"`
	LastUsedAt      time.Time         `json:"lastUsedAt"`
	Proxy           *ProxyConfig      `json:"proxyConfig,omitempty"`

	// StoragePath is where the blob of this session lives on disk
	StoragePath string `json:"storagePath,omitempty"`

	// APIConfigIDs weakly references captured API configs by id
	APIConfigIDs []int64 `json:"apiConfigIds,omitempty"`
}

// NewSession builds a session whose expiry is always CreatedAt + SessionTTL.
func NewSession(id, account string, state StorageState, headers map[string]string, now time.Time) *Session {
	now = now.UTC()
	return &Session{
		ID:              id,
		AccountIdentity: account,
		Cookies:         state.Cookies,
		Origins:         state.Origins,
		Headers:         headers,
		CreatedAt:       now,
		ExpiresAt:       now.Add(SessionTTL),
		LastUsedAt:      now,
	}
}

// SessionID derives the session identifier from an account identity.
func SessionID(prefix, account string) string {
	if prefix == "" {
		return account
	}
	return prefix + "_" + account
}

// Expired reports whether the session can no longer be restored at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Touch records a reuse. It never extends ExpiresAt.
func (s *Session) Touch(now time.Time) {
	s.LastUsedAt = now.UTC()
}

// State returns the browser storage carried by the session.
func (s *Session) State() StorageState {
	return StorageState{Cookies: s.Cookies, Origins: s.Origins}
}

// LinkAPIConfig records a captured config id once.
func (s *Session) LinkAPIConfig(id int64) {
	for _, existing := range s.APIConfigIDs {
		if existing == id {
			return
		}
	}
	s.APIConfigIDs = append(s.APIConfigIDs, id)
}
