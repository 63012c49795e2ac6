package mail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/sessionpilot/pkg/logging"
	"github.com/entrhq/sessionpilot/pkg/store"
	"github.com/entrhq/sessionpilot/pkg/types"
)

// ErrNoCode is returned by Check when the latest message has no code.
var ErrNoCode = errors.New("mail: no verification code in message")

// ErrNoMessage is returned by Latest when the sender has not written yet.
var ErrNoMessage = errors.New("mail: no message from sender")

// Options configures the resolver.
type Options struct {
	Sender string
	Folder string
}

// Resolver polls a mailbox for verification codes and records them.
type Resolver struct {
	box    Mailbox
	repo   store.Repository
	sender string
	folder string
	log    *logging.Logger
	now    func() time.Time
}

// NewResolver creates a resolver. repo must be shared with the rest of the
// run so code status is consistent.
func NewResolver(box Mailbox, repo store.Repository, opts Options, log *logging.Logger) (*Resolver, error) {
	if box == nil {
		return nil, errors.New("mail: mailbox is required")
	}
	if repo == nil {
		return nil, errors.New("mail: repository is required")
	}
	if opts.Sender == "" {
		return nil, errors.New("mail: sender address is required")
	}
	if opts.Folder == "" {
		opts.Folder = DefaultFolder
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Resolver{
		box:    box,
		repo:   repo,
		sender: opts.Sender,
		folder: opts.Folder,
		log:    log,
		now:    time.Now,
	}, nil
}

// Latest connects, locks the folder and returns the newest message from the
// sender. The connection is logged out before returning.
func (r *Resolver) Latest(ctx context.Context) (Message, error) {
	conn, err := r.box.Connect(ctx)
	if err != nil {
		return Message{}, err
	}
	defer func() {
		if lerr := conn.Logout(); lerr != nil {
			r.log.Debugf("mailbox logout: %v", lerr)
		}
	}()

	release, err := conn.Lock(ctx, r.folder)
	if err != nil {
		return Message{}, err
	}
	defer release()

	msgs, err := conn.Messages(ctx)
	if err != nil {
		return Message{}, err
	}
	latest, ok := LatestFrom(msgs, r.sender)
	if !ok {
		return Message{}, fmt.Errorf("%w %s in %d messages", ErrNoMessage, r.sender, len(msgs))
	}
	return latest, nil
}

// Peek returns the code in the latest message without recording it.
func (r *Resolver) Peek(ctx context.Context) (string, Message, error) {
	msg, err := r.Latest(ctx)
	if err != nil {
		return "", Message{}, err
	}
	code, ok := ExtractCode(Body(msg.Source))
	if !ok {
		return "", msg, ErrNoCode
	}
	return code, msg, nil
}

// Check runs one poll: it extracts the code of the latest message and
// stores it as UNUSED unless it was seen before. The stored row is returned
// whatever its status.
func (r *Resolver) Check(ctx context.Context, account string) (*types.VerificationCode, error) {
	code, msg, err := r.Peek(ctx)
	if err != nil {
		return nil, err
	}
	received := msg.Date
	if received.IsZero() {
		received = r.now()
	}
	return r.repo.SaveVerificationCode(ctx, types.VerificationCode{
		Code:          code,
		MessageID:     msg.Key(),
		SenderAddress: msg.From,
		Account:       account,
		ReceivedAt:    received.UTC(),
		Status:        types.CodeUnused,
	})
}

// WaitForCode polls every interval until an UNUSED code shows up. It
// returns nil, nil once timeout elapses without one. Mailbox and store
// failures are logged and retried at the next poll. Cancelling ctx aborts
// the wait with ctx.Err().
func (r *Resolver) WaitForCode(ctx context.Context, account string, timeout, interval time.Duration) (*types.VerificationCode, error) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := time.Now().Add(timeout)
	r.log.Infof("waiting up to %s for a verification code from %s", timeout, r.sender)

	for attempt := 1; ; attempt++ {
		code, err := r.Check(ctx, account)
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			r.log.Debugf("mail poll %d: %v", attempt, err)
		case code.Usable():
			r.log.Infof("verification code found in message %s", code.MessageID)
			return code, nil
		default:
			r.log.Debugf("mail poll %d: latest code %s already used", attempt, code.MessageID)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			r.log.Warnf("no unused verification code after %s", timeout)
			return nil, nil
		}
		t := time.NewTimer(min(interval, remaining))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

// MarkUsed consumes a code. A code can be marked only once.
func (r *Resolver) MarkUsed(ctx context.Context, code *types.VerificationCode) error {
	at := r.now().UTC()
	if err := r.repo.MarkCodeUsed(ctx, code.ID, at); err != nil {
		return err
	}
	code.Status = types.CodeUsed
	code.UsedAt = &at
	return nil
}
