package domain

// GroupPayloadVersion tags serialized notification groups so future field
// changes do not silently corrupt in-flight groups.
const GroupPayloadVersion = 1

// Challenge is the durable record of one daily puzzle. Immutable once
// created except for the gameplay counters.
type Challenge struct {
	Number        int64  `json:"number"`
	Word          string `json:"word"`
	PostReference string `json:"post_reference"`
	CreatedAt     string `json:"created_at" format:"date-time"`
	CreatedBy     string `json:"created_by,omitempty"`
	TotalPlayers  int64  `json:"total_players"`
	TotalSolves   int64  `json:"total_solves"`
}

// DailyMarker records that a challenge was created for a UTC calendar day.
// Its presence is the single source of truth for "today already exists".
type DailyMarker struct {
	ChallengeNumber int64  `json:"challenge_number"`
	PostReference   string `json:"post_reference"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

// Recipient is one delivery target inside a notification group, fixed at
// group creation time.
type Recipient struct {
	AccountID string            `json:"account_id"`
	Username  string            `json:"username"`
	Zone      string            `json:"zone,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
}

// NotificationGroup is one coalesced batch of recipients sharing an
// (offset label, due instant) bucket.
type NotificationGroup struct {
	Version     int         `json:"v"`
	ID          string      `json:"id"`
	Type        string      `json:"type"`
	Title       string      `json:"title,omitempty"`
	Body        string      `json:"body,omitempty"`
	Link        string      `json:"link,omitempty"`
	OffsetLabel string      `json:"offset_label"`
	DueAtMs     int64       `json:"due_at_ms"`
	Recipients  []Recipient `json:"recipients"`
}

// EnsureStatus is the terminal outcome of a daily-challenge creation attempt.
type EnsureStatus string

const (
	// EnsureCreated means this caller minted today's challenge.
	EnsureCreated EnsureStatus = "created"
	// EnsureExists means the day's marker was already present.
	EnsureExists EnsureStatus = "exists"
	// EnsureSkipped means another caller holds the day's reservation.
	EnsureSkipped EnsureStatus = "skipped"
)

// Send-outcome reasons for a delivery attempt that did not send. These are
// designed no-op outcomes, not errors.
const (
	SendReasonAlreadyClaimed = "already-claimed"
	SendReasonMissing        = "missing"
	SendReasonEmpty          = "empty"
)
