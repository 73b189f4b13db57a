package model

// BulkMode selects the shape of a bulk update request.
type BulkMode string

const (
	BulkQuick    BulkMode = "quick"
	BulkAdvanced BulkMode = "advanced"
)

// BulkGroup targets one named component group in advanced mode.
type BulkGroup struct {
	TemplateID   string   `json:"template_id"`
	ComponentIDs []string `json:"component_ids"`
	Milestones   []string `json:"milestones"`
}

// BulkRequest is either quick (one milestone name applied uniformly
// across components) or advanced (distinct milestone lists per group).
type BulkRequest struct {
	Mode          BulkMode    `json:"mode"`
	MilestoneName string      `json:"milestone_name,omitempty"`
	ComponentIDs  []string    `json:"component_ids,omitempty"`
	Groups        []BulkGroup `json:"groups,omitempty"`
	Value         UpdateValue `json:"value"`
	UserID        string      `json:"user_id,omitempty"`
	TransactionID string      `json:"transaction_id,omitempty"`
}

// BulkItemResult identifies one component/milestone pair in a bulk
// outcome.
type BulkItemResult struct {
	ComponentID   string `json:"component_id"`
	MilestoneName string `json:"milestone_name"`
	Error         string `json:"error,omitempty"`
}

// BulkResult aggregates per-item outcomes across all chunks of one
// bulk operation.
type BulkResult struct {
	Successful []BulkItemResult `json:"successful"`
	Failed     []BulkItemResult `json:"failed"`
	Total      int              `json:"total"`
}

// BulkProgress is reported to the caller after each chunk resolves.
type BulkProgress struct {
	CurrentChunk int     `json:"current_chunk"`
	TotalChunks  int     `json:"total_chunks"`
	Percentage   float64 `json:"percentage"`
}

// ValidationResult is the outcome of a pre-flight bulk request check.
type ValidationResult struct {
	Valid          bool     `json:"valid"`
	Errors         []string `json:"errors,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
	EstimatedCount int      `json:"estimated_count"`
}
