// Package model defines the domain types shared by the scraping engine.
package model

import (
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a job or session.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether the status is completed or failed.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// SiteError records a single site's failure within a job.
type SiteError struct {
	Site    string `json:"site"`
	Message string `json:"message"`
}

// Job is one scraping request spanning multiple sites.
type Job struct {
	ID              string      `json:"job_id"`
	Status          JobStatus   `json:"status"`
	TargetSites     []string    `json:"target_sites"`
	TargetURLs      []string    `json:"target_urls"`
	MaxProducts     int         `json:"max_products"`
	UseAIParsing    bool        `json:"use_ai_parsing"`
	Progress        float64     `json:"progress"`
	ProductsScraped int         `json:"products_scraped"`
	Errors          []SiteError `json:"errors,omitempty"`
	Error           string      `json:"error,omitempty"`
	TokenUsage      TokenUsage  `json:"token_usage"`
	CreatedAt       time.Time   `json:"created_at"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
}

// ErrorMessage joins the per-site errors and the job-level error into a
// single string for consumers that expect one field.
func (j *Job) ErrorMessage() string {
	var parts []string
	if j.Error != "" {
		parts = append(parts, j.Error)
	}
	for _, e := range j.Errors {
		parts = append(parts, e.Site+": "+e.Message)
	}
	return strings.Join(parts, "; ")
}

// Clone returns a deep copy safe to hand to readers.
func (j *Job) Clone() *Job {
	c := *j
	c.TargetSites = append([]string(nil), j.TargetSites...)
	c.TargetURLs = append([]string(nil), j.TargetURLs...)
	c.Errors = append([]SiteError(nil), j.Errors...)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// JobOutcome is produced once every session of a job has resolved.
type JobOutcome struct {
	JobID         string      `json:"job_id"`
	Status        JobStatus   `json:"status"`
	ProductCount  int         `json:"product_count"`
	Errors        []SiteError `json:"errors,omitempty"`
	TokenUsage    TokenUsage  `json:"token_usage"`
	EstimatedCost float64     `json:"estimated_cost_usd"`
}

// TokenUsage tracks AI token consumption.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Add accumulates another usage into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}
