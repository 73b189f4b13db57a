package optimistic

import (
	"time"

	"github.com/clachance14/pipetrak/internal/model"
)

// applyValue computes the speculative snapshot produced by an intent,
// shaped by the component's workflow type. Percentage completion is
// derived at 100, quantity completion at completed == total.
func applyValue(base model.Milestone, intent model.UpdateIntent, wt model.WorkflowType, now time.Time) model.Milestone {
	m := base

	switch wt {
	case model.WorkflowPercentage:
		if intent.Value.PercentageValue != nil {
			v := *intent.Value.PercentageValue
			if v < 0 {
				v = 0
			}
			if v > 100 {
				v = 100
			}
			m.PercentageValue = v
			m.IsCompleted = v >= 100
		}
	case model.WorkflowQuantity:
		if intent.Value.QuantityValue != nil {
			v := *intent.Value.QuantityValue
			if v < 0 {
				v = 0
			}
			if m.QuantityTotal > 0 && v > m.QuantityTotal {
				v = m.QuantityTotal
			}
			m.QuantityComplete = v
			m.IsCompleted = m.QuantityTotal > 0 && v == m.QuantityTotal
		}
	default:
		if intent.Value.IsCompleted != nil {
			m.IsCompleted = *intent.Value.IsCompleted
		}
	}

	if m.IsCompleted && !base.IsCompleted {
		t := now
		m.CompletedAt = &t
		m.CompletedBy = intent.UserID
	}
	if !m.IsCompleted {
		m.CompletedAt = nil
		m.CompletedBy = ""
	}
	return m
}

// valuesDiffer compares the value representations of two snapshots.
// Only completion-bearing fields participate; bookkeeping fields like
// UpdatedAt never cause a conflict by themselves.
func valuesDiffer(a, b model.Milestone) bool {
	return a.IsCompleted != b.IsCompleted ||
		a.PercentageValue != b.PercentageValue ||
		a.QuantityComplete != b.QuantityComplete
}
