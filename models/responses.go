package models

import "time"

// DisplayKind discriminates the entries produced by presentation grouping.
type DisplayKind string

const (
	DisplayMessage     DisplayKind = "message"
	DisplayDateDivider DisplayKind = "date_divider"
	DisplaySpacer      DisplayKind = "spacer"
)

// DisplayItem is one renderable row: a message, a date divider or a spacer.
// Only the fields matching Kind are set.
type DisplayItem struct {
	Kind DisplayKind `json:"kind"`

	Message        *Message `json:"message,omitempty"`
	IsFirstInGroup bool     `json:"is_first_in_group,omitempty"`

	Date  *time.Time `json:"date,omitempty"`
	Label string     `json:"label,omitempty"`

	Height int `json:"height,omitempty"`
}

// Reply is a successful assistant answer together with the exchange that produced it.
type Reply struct {
	Text       string
	ExchangeID string
}
