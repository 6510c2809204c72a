// Package domain contains core concepts of the direct-messaging system.
// This file defines identities, messages and thread ordering rules.
// Messages are immutable once persisted.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// UserID is an opaque, externally supplied user identity.
// Clients may send it as a JSON string or a JSON number.
type UserID string

func (u UserID) IsZero() bool { return u == "" }

func (u UserID) String() string { return string(u) }

func (u *UserID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*u = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*u = UserID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("user id must be a string or a number: %w", err)
	}
	*u = UserID(n.String())
	return nil
}

// Message represents one persisted direct message.
type Message struct {
	ID          uint64    `json:"id"`
	SenderID    UserID    `json:"sender_id"`
	RecipientID UserID    `json:"recipient_id"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}

// Before reports whether m precedes other in a thread: created_at first, id breaks ties.
func (m Message) Before(other Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

// SortThread orders messages in place using Before.
// Stores whose timestamps come back with a coarser precision than they were sorted with rely on it.
func SortThread(messages []Message) {
	slices.SortStableFunc(messages, func(x, y Message) int {
		switch {
		case x.Before(y):
			return -1
		case y.Before(x):
			return 1
		default:
			return 0
		}
	})
}

// ThreadKey identifies the unordered pair {a, b}.
// Both ids are length-prefixed so no key is a prefix of another.
func ThreadKey(a, b UserID) string {
	lo, hi := a, b
	if hi < lo {
		lo, hi = hi, lo
	}
	return fmt.Sprintf("%d:%s|%d:%s", len(lo), lo, len(hi), hi)
}
