package model

import "time"

// Session is one site's portion of a job.
type Session struct {
	ID            string     `json:"session_id"`
	JobID         string     `json:"job_id"`
	Site          string     `json:"site"`
	URL           string     `json:"url"`
	Status        JobStatus  `json:"status"`
	ProductsFound int        `json:"products_found"`
	Error         string     `json:"error,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Start moves the session from pending to running. It returns false if the
// session was not pending.
func (s *Session) Start(now time.Time) bool {
	if s.Status != StatusPending {
		return false
	}
	s.Status = StatusRunning
	s.StartedAt = &now
	return true
}

// Complete moves a running session to completed with the given count.
func (s *Session) Complete(now time.Time, found int) bool {
	if s.Status != StatusRunning {
		return false
	}
	s.Status = StatusCompleted
	s.ProductsFound = found
	s.CompletedAt = &now
	return true
}

// Fail moves a running session to failed and records the error.
func (s *Session) Fail(now time.Time, err error) bool {
	if s.Status != StatusRunning {
		return false
	}
	s.Status = StatusFailed
	if err != nil {
		s.Error = err.Error()
	}
	s.CompletedAt = &now
	return true
}
