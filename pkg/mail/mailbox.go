// Package mail reads emailed verification codes from a mailbox.
package mail

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// DefaultFolder is the mailbox polled for codes.
const DefaultFolder = "INBOX"

// Message is one fetched email.
type Message struct {
	UID       uint32
	MessageID string
	From      string
	Date      time.Time

	// Source is the raw RFC 822 message
	Source []byte
}

// Key identifies the message for code deduplication.
func (m Message) Key() string {
	if m.MessageID != "" {
		return m.MessageID
	}
	return "uid:" + strconv.FormatUint(uint64(m.UID), 10)
}

// Mailbox opens authenticated connections to a mail server.
type Mailbox interface {
	Connect(ctx context.Context) (Conn, error)
}

// Conn is a single logged-in mailbox connection.
type Conn interface {
	// Lock selects a folder read-only. The returned release closes it.
	Lock(ctx context.Context, folder string) (release func(), err error)

	// Messages fetches the envelope and source of every message in the
	// locked folder.
	Messages(ctx context.Context) ([]Message, error)

	Logout() error
}

// LatestFrom returns the most recent message sent by sender, matched case
// insensitively.
func LatestFrom(msgs []Message, sender string) (Message, bool) {
	var (
		latest Message
		found  bool
	)
	for _, m := range msgs {
		if !sameAddress(m.From, sender) {
			continue
		}
		if !found || m.Date.After(latest.Date) {
			latest = m
			found = true
		}
	}
	return latest, found
}

func sameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
