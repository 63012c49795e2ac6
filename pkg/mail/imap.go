package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// DefaultIMAPPort is the implicit TLS port.
const DefaultIMAPPort = 993

// IMAPConfig holds the server address and app credentials of a mailbox.
type IMAPConfig struct {
	Host     string
	Port     int
	Username string
	Password string

	// CommandTimeout bounds each IMAP command. Zero means no limit.
	CommandTimeout time.Duration

	InsecureSkipVerify bool
}

// IMAPMailbox connects to an IMAP server over TLS.
type IMAPMailbox struct {
	cfg IMAPConfig
}

// NewIMAPMailbox validates cfg and returns a mailbox.
func NewIMAPMailbox(cfg IMAPConfig) (*IMAPMailbox, error) {
	if cfg.Host == "" {
		return nil, errors.New("mail: imap host is required")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("mail: imap username and password are required")
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultIMAPPort
	}
	return &IMAPMailbox{cfg: cfg}, nil
}

// Connect dials, performs the TLS handshake and logs in. The connection is
// torn down if ctx is cancelled before Logout.
func (m *IMAPMailbox) Connect(ctx context.Context) (Conn, error) {
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	dialer := &tls.Dialer{Config: &tls.Config{
		ServerName:         m.cfg.Host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: m.cfg.InsecureSkipVerify, //nolint:gosec // opt-in for self-hosted test servers
	}}

	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("mail: dial %s: %w", addr, err)
	}

	c, err := client.New(raw)
	if err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("mail: imap greeting: %w", err)
	}
	c.Timeout = m.cfg.CommandTimeout

	stop := context.AfterFunc(ctx, func() { _ = c.Terminate() })

	if err := c.Login(m.cfg.Username, m.cfg.Password); err != nil {
		stop()
		_ = c.Logout()
		return nil, fmt.Errorf("mail: login as %s: %w", m.cfg.Username, err)
	}
	return &imapConn{c: c, stop: stop}, nil
}

type imapConn struct {
	c     *client.Client
	stop  func() bool
	count uint32
}

func (ic *imapConn) Lock(_ context.Context, folder string) (func(), error) {
	status, err := ic.c.Select(folder, true)
	if err != nil {
		return nil, fmt.Errorf("mail: select %s: %w", folder, err)
	}
	ic.count = status.Messages
	return func() { _ = ic.c.Close() }, nil
}

func (ic *imapConn) Messages(ctx context.Context) ([]Message, error) {
	if ic.count == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddRange(1, ic.count)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	ch := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- ic.c.Fetch(seqset, items, ch)
	}()

	var out []Message
	for msg := range ch {
		out = append(out, convertMessage(msg, section))
	}
	if err := <-done; err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("mail: fetch: %w", err)
	}
	return out, nil
}

func (ic *imapConn) Logout() error {
	defer ic.stop()
	return ic.c.Logout()
}

func convertMessage(msg *imap.Message, section *imap.BodySectionName) Message {
	out := Message{UID: msg.Uid, Date: msg.InternalDate}
	if env := msg.Envelope; env != nil {
		out.MessageID = env.MessageId
		if !env.Date.IsZero() {
			out.Date = env.Date
		}
		if len(env.From) > 0 && env.From[0] != nil {
			out.From = env.From[0].Address()
		}
	}
	if body := msg.GetBody(section); body != nil {
		if src, err := io.ReadAll(body); err == nil {
			out.Source = src
		}
	}
	return out
}
