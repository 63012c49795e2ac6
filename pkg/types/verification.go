package types

import "time"

// CodeStatus is the lifecycle state of an emailed verification code.
// It only ever moves from CodeUnused to CodeUsed.
type CodeStatus string

const (
	CodeUnused CodeStatus = "UNUSED"
	CodeUsed   CodeStatus = "USED"
)

// VerificationCode is a code extracted from the mailbox.
type VerificationCode struct {
	ID            int64      `json:"id"`
	Code          string     `json:"code"`
	MessageID     string     `json:"messageId"`
	SenderAddress string     `json:"senderAddress"`
	Account       string     `json:"account"`
	ReceivedAt    time.Time  `json:"receivedAt"`
	UsedAt        *time.Time `json:"usedAt,omitempty"`
	Status        CodeStatus `json:"status"`
}

// Usable reports whether the code may still be consumed.
func (v *VerificationCode) Usable() bool {
	return v != nil && v.Status == CodeUnused
}
