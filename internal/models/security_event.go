package models

import "time"

// EventType enumerates the audit events the auth flows emit.
type EventType string

const (
	EventRegistration   EventType = "registration"
	EventLoginSuccess   EventType = "login_success"
	EventLoginFailed    EventType = "login_failed"
	EventAccountLocked  EventType = "account_locked"
	EventPasswordReset  EventType = "password_reset"
	EventOTPRequested   EventType = "otp_requested"
	EventOTPVerified    EventType = "otp_verified"
	EventOTPRejected    EventType = "otp_rejected"
	EventOTPBlocked     EventType = "otp_blocked"
	EventSessionReused  EventType = "session_reused"
	EventSessionEvicted EventType = "session_evicted"
	EventTokenRefreshed EventType = "token_refreshed"
	EventLogout         EventType = "logout"
)

// SecurityEvent is the audit record fanned out to Kafka, ClickHouse and
// Elasticsearch. Identifier is the normalized email or phone hash involved,
// never a plaintext phone number.
type SecurityEvent struct {
	EventID     string    `json:"event_id" db:"event_id"`
	EventBucket int       `json:"event_bucket" db:"event_bucket"`
	EventDate   string    `json:"event_date" db:"event_date"`
	EventTime   time.Time `json:"event_time" db:"event_time"`
	EventType   EventType `json:"event_type" db:"event_type"`
	UserID      string    `json:"user_id,omitempty" db:"user_id"`
	Identifier  string    `json:"identifier,omitempty" db:"identifier"`
	IPAddress   string    `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent   string    `json:"user_agent,omitempty" db:"user_agent"`
	Details     string    `json:"details,omitempty" db:"details"`
}
