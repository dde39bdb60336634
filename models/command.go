package models

import (
	"encoding/json"
	"time"
)

type CommandType string

const (
	CmdRunAll   CommandType = "run_all"
	CmdRunOwner CommandType = "run_owner"
	CmdPause    CommandType = "pause"
	CmdResume   CommandType = "resume"
)

// Command is queued by an external collaborator (chat dialog, admin tool)
// and picked up by the scheduler's poll loop.
type Command struct {
	ID          int64           `json:"id" db:"id"`
	Command     CommandType     `json:"command" db:"command"`
	Params      json.RawMessage `json:"params" db:"params"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
}

type CommandParams struct {
	Owner int64 `json:"owner,omitempty"`
}

// ParseParams decodes the optional params payload.
func (c *Command) ParseParams() (*CommandParams, error) {
	if c.Params == nil || string(c.Params) == "null" {
		return &CommandParams{}, nil
	}
	var params CommandParams
	if err := json.Unmarshal(c.Params, &params); err != nil {
		return nil, err
	}
	return &params, nil
}
