package model

import "time"

type Status string

const (
	Sent   Status = "sent"
	Failed Status = "failed"
)

// Contact is a validated, deduplicated recipient. ID is unique within a dispatch.
type Contact struct {
	ID      string `json:"id"`
	Phone   string `json:"phone"`
	Name    string `json:"name,omitempty"`
	Message string `json:"message,omitempty"`
}

// Attachment is a locally resolvable file sent as a follow-up message.
type Attachment struct {
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
}

// Location returns Path, falling back to Name.
func (a Attachment) Location() string {
	if a.Path != "" {
		return a.Path
	}
	return a.Name
}

type MessageResult struct {
	ContactID string `json:"contactId"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

func (r MessageResult) Status() Status {
	if r.Success {
		return Sent
	}
	return Failed
}

type Summary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

type Report struct {
	RunID   string          `json:"runId"`
	Results []MessageResult `json:"results"`
	Summary Summary         `json:"summary"`
}

// Summarize derives a Summary from results.
func Summarize(results []MessageResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Success {
			s.Successful++
		} else {
			s.Failed++
		}
	}
	return s
}

// DeliveryRecord is a persisted final outcome of one contact in a run.
type DeliveryRecord struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"runId"`
	ContactID string    `json:"contactId"`
	Phone     string    `json:"phone"`
	Status    Status    `json:"status"`
	MessageID *string   `json:"messageId,omitempty"`
	LastError *string   `json:"lastError,omitempty"`
	Backend   string    `json:"backend"`
	CreatedAt time.Time `json:"createdAt"`
}
