package services

import "time"

type FormState string

const (
	StateActive  FormState = "active"
	StatePaused  FormState = "paused"
	StateExpired FormState = "expired"
)

// IsClosed reports whether form rejects submissions at now. A deadline equal
// to now already counts as passed.
func IsClosed(form *Form, now time.Time) bool {
	return State(form, now) != StateActive
}

// State derives the lifecycle state. Expiry is never persisted.
func State(form *Form, now time.Time) FormState {
	if form.IsPaused {
		return StatePaused
	}
	if form.Deadline != nil && !form.Deadline.After(now) {
		return StateExpired
	}
	return StateActive
}
