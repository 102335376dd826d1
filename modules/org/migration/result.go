package migration

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARNING"
	LevelError Level = "ERROR"
)

// Event is one entry of the migration log, in the order it happened.
type Event struct {
	At      time.Time
	Level   Level
	Message string
	TeamID  int64
	UserID  uuid.UUID
}

func (e Event) String() string {
	line := fmt.Sprintf("%s: %s %s", e.At.Format(time.RFC3339), e.Level, e.Message)
	if e.TeamID != 0 {
		line += fmt.Sprintf(" team_id=%d", e.TeamID)
	}
	if e.UserID != uuid.Nil {
		line += " user_id=" + e.UserID.String()
	}
	return line
}

type Summary struct {
	UnitsCreated        int `json:"units_created"`
	PositionsCreated    int `json:"positions_created"`
	MembershipsCreated  int `json:"memberships_created"`
	RelationsCreated    int `json:"relations_created"`
	DirectSupervisions  int `json:"direct_supervisions"`
	CommissionsMigrated int `json:"commissions_migrated"`
	Warnings            int `json:"warnings"`
	Errors              int `json:"errors"`
}

// add merges the created counters of a committed unit. Warnings and errors
// are counted as they are logged.
func (s *Summary) add(o Summary) {
	s.UnitsCreated += o.UnitsCreated
	s.PositionsCreated += o.PositionsCreated
	s.MembershipsCreated += o.MembershipsCreated
	s.RelationsCreated += o.RelationsCreated
	s.DirectSupervisions += o.DirectSupervisions
	s.CommissionsMigrated += o.CommissionsMigrated
}

type Result struct {
	DryRun  bool
	Events  []Event
	Summary Summary
}

func (r *Result) Log() []string {
	out := make([]string, 0, len(r.Events))
	for _, e := range r.Events {
		out = append(out, e.String())
	}
	return out
}
