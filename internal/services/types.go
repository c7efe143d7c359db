package services

import (
	"encoding/json"
	"time"
)

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	PassHash  []byte    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// Form is owned by exactly one user. Slug is assigned once at creation.
type Form struct {
	ID            string     `json:"id"`
	OwnerID       string     `json:"ownerId"`
	Title         string     `json:"title"`
	Slug          string     `json:"slug"`
	IsPaused      bool       `json:"isPaused"`
	Deadline      *time.Time `json:"deadline"`
	ClosedMessage *string    `json:"closedMessage"`
	CreatedAt     time.Time  `json:"createdAt"`
	Fields        []*Field   `json:"fields,omitempty"`
}

// Field.Order is unique within a form; fields are read back sorted by it.
type Field struct {
	ID     string `json:"id"`
	FormID string `json:"formId"`
	Key    string `json:"key"`
	Label  string `json:"label"`
	Type   string `json:"type"`
	Order  int    `json:"order"`
}

// Submission keeps the respondent payload verbatim in Data. Answers holds the
// nested "answers" member when the payload carried one.
type Submission struct {
	ID        string          `json:"id"`
	FormID    string          `json:"formId"`
	Data      string          `json:"data"`
	Answers   json.RawMessage `json:"answers,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

const ExportTypeCSV = "csv"

type ExportJob struct {
	ID           string     `json:"id"`
	FormID       string     `json:"formId"`
	Type         string     `json:"type"`
	CreatedAt    time.Time  `json:"createdAt"`
	DispatchedAt *time.Time `json:"dispatchedAt,omitempty"`
	Attempts     int        `json:"attempts"`
	LastError    string     `json:"lastError,omitempty"`
}

type AuditEntry struct {
	Time   time.Time `json:"time"`
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	Target string    `json:"target"`
	Note   string    `json:"note,omitempty"`
}
