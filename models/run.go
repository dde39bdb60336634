package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

type Trigger string

const (
	TriggerPeriodic Trigger = "periodic"
	TriggerManual   Trigger = "manual"
)

// PassRun records one (subscriber, source) pass.
type PassRun struct {
	ID            string     `json:"id" db:"id"`
	Owner         int64      `json:"owner" db:"user_id"`
	SourceID      int64      `json:"source_id" db:"source_id"`
	Trigger       Trigger    `json:"trigger" db:"trigger"`
	StartedAt     time.Time  `json:"started_at" db:"started_at"`
	FinishedAt    *time.Time `json:"finished_at" db:"finished_at"`
	Status        RunStatus  `json:"status" db:"status"`
	ListingsFound int        `json:"listings_found" db:"listings_found"`
	NewCount      int        `json:"new_count" db:"new_count"`
	DropCount     int        `json:"drop_count" db:"drop_count"`
	Error         string     `json:"error" db:"error"`
}

// PassCommit is everything a pass writes once its messages are built:
// observations for new items and acknowledged drops, and the new watermark.
type PassCommit struct {
	Owner        int64
	SourceID     int64
	Watermark    int64
	Observations []PriceObservation
}

// PassResult is what the orchestrator hands back for one subscriber.
type PassResult struct {
	Owner    int64
	ChatID   int64
	Messages []string
	Current  []Listing // filtered listings seen this pass, used for manual digests
	Errors   int
}
