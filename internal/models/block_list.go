package models

import "time"

// BlockListEntry denies new OTP issuance to an identifier or, for email,
// a whole domain. Entries auto-expire; unblock flips IsActive.
type BlockListEntry struct {
	Identifier string     `db:"identifier"`
	Reason     string     `db:"reason"`
	BlockedAt  time.Time  `db:"blocked_at"`
	ExpiresAt  *time.Time `db:"expires_at"`
	IsActive   bool       `db:"is_active"`
}

// ActiveAt reports whether the entry blocks at the given instant.
func (b *BlockListEntry) ActiveAt(now time.Time) bool {
	if !b.IsActive {
		return false
	}
	return b.ExpiresAt == nil || b.ExpiresAt.After(now)
}
