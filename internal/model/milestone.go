package model

import "time"

// WorkflowType determines which value representation is meaningful for
// every milestone of a component.
type WorkflowType string

const (
	WorkflowDiscrete   WorkflowType = "MILESTONE_DISCRETE"
	WorkflowPercentage WorkflowType = "MILESTONE_PERCENTAGE"
	WorkflowQuantity   WorkflowType = "MILESTONE_QUANTITY"
)

// ComponentType flags components that follow an alternate dependency
// graph. Only field welds are special-cased today.
type ComponentType string

const (
	ComponentStandard  ComponentType = "STANDARD"
	ComponentFieldWeld ComponentType = "FIELD_WELD"
)

// Milestone is one ordered step of a component's completion workflow.
// UpdatedAt is the server's authoritative timestamp and is the only
// field used for conflict ordering.
type Milestone struct {
	ID               string     `json:"id"`
	ComponentID      string     `json:"component_id"`
	Name             string     `json:"name"`
	SequenceOrder    int        `json:"sequence_order"`
	Weight           float64    `json:"weight"`
	IsCompleted      bool       `json:"is_completed"`
	PercentageValue  float64    `json:"percentage_value"`
	QuantityComplete int        `json:"quantity_complete"`
	QuantityTotal    int        `json:"quantity_total"`
	QuantityUnit     string     `json:"quantity_unit"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CompletedBy      string     `json:"completed_by,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Component mirrors a physical component and its ordered milestones.
// WorkflowType applies uniformly to all milestones of the component.
type Component struct {
	ID            string        `json:"id"`
	WorkflowType  WorkflowType  `json:"workflow_type"`
	ComponentType ComponentType `json:"component_type"`
	Milestones    []Milestone   `json:"milestones"`
}

// MilestoneByID returns the component's milestone with the given id.
func (c *Component) MilestoneByID(id string) (*Milestone, bool) {
	for i := range c.Milestones {
		if c.Milestones[i].ID == id {
			return &c.Milestones[i], true
		}
	}
	return nil, false
}
