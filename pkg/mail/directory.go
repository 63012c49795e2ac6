package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/entrhq/sessionpilot/pkg/types"
)

// ErrNoMailbox is returned when no resolver serves an account.
var ErrNoMailbox = errors.New("mail: no mailbox for account")

// Directory routes code lookups to the resolver bound to each account,
// falling back to a default resolver when one is set.
type Directory struct {
	byAccount map[string]*Resolver
	fallback  *Resolver
}

// NewDirectory creates a directory. fallback may be nil.
func NewDirectory(fallback *Resolver) *Directory {
	return &Directory{byAccount: make(map[string]*Resolver), fallback: fallback}
}

// Add binds r to account.
func (d *Directory) Add(account string, r *Resolver) {
	d.byAccount[normalizeAccount(account)] = r
}

// Len returns the number of resolvers, the fallback included.
func (d *Directory) Len() int {
	n := len(d.byAccount)
	if d.fallback != nil {
		n++
	}
	return n
}

// For returns the resolver serving account.
func (d *Directory) For(account string) (*Resolver, bool) {
	if r, ok := d.byAccount[normalizeAccount(account)]; ok {
		return r, true
	}
	return d.fallback, d.fallback != nil
}

// WaitForCode waits on the mailbox bound to account.
func (d *Directory) WaitForCode(ctx context.Context, account string, timeout, interval time.Duration) (*types.VerificationCode, error) {
	r, ok := d.For(account)
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrNoMailbox, account)
	}
	return r.WaitForCode(ctx, account, timeout, interval)
}

// MarkUsed consumes code through the resolver of its account.
func (d *Directory) MarkUsed(ctx context.Context, code *types.VerificationCode) error {
	r, ok := d.For(code.Account)
	if !ok {
		return fmt.Errorf("%w %s", ErrNoMailbox, code.Account)
	}
	return r.MarkUsed(ctx, code)
}

func normalizeAccount(account string) string {
	return strings.ToLower(strings.TrimSpace(account))
}
