package alerting

import (
	"time"

	"github.com/t77yq/resale-alerts/internal/model"
)

// Outcome classifies what happened to one obligation during a reconciliation run
type Outcome string

const (
	OutcomeCreated             Outcome = "created"
	OutcomeNotDue              Outcome = "not_due"
	OutcomeDuplicate           Outcome = "duplicate"
	OutcomeMissingRelationship Outcome = "missing_relationship"
	OutcomeInvalidDueDate      Outcome = "invalid_due_date"
	OutcomeFailed              Outcome = "failed"
)

// ItemResult is the tagged result of processing one obligation
type ItemResult struct {
	AlertType     model.AlertType `json:"alert_type"`
	EntityID      string          `json:"entity_id"`
	Outcome       Outcome         `json:"outcome"`
	DaysRemaining int             `json:"days_remaining"`
	AlertID       string          `json:"alert_id,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Err           error           `json:"-"`
}

// Summary collects the results of one reconciliation run
type Summary struct {
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Results    []ItemResult `json:"results"`
}

func (s *Summary) add(result ItemResult) {
	s.Results = append(s.Results, result)
}

// Count returns how many items ended with the given outcome
func (s *Summary) Count(outcome Outcome) int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome == outcome {
			n++
		}
	}
	return n
}

// Filter returns the results with the given outcome
func (s *Summary) Filter(outcome Outcome) []ItemResult {
	var results []ItemResult
	for _, r := range s.Results {
		if r.Outcome == outcome {
			results = append(results, r)
		}
	}
	return results
}

// Find returns the result recorded for an entity, if any
func (s *Summary) Find(alertType model.AlertType, entityID string) (ItemResult, bool) {
	for _, r := range s.Results {
		if r.AlertType == alertType && r.EntityID == entityID {
			return r, true
		}
	}
	return ItemResult{}, false
}
