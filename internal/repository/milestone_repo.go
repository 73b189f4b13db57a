package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/clachance14/pipetrak/internal/model"
)

// MilestoneRepository mirrors server-confirmed component and milestone
// state locally so the gateway can seed the optimistic store after a
// restart without a round trip to the central server.
type MilestoneRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewMilestoneRepository(db *pgxpool.Pool, logger *zap.Logger) *MilestoneRepository {
	return &MilestoneRepository{
		db:     db,
		logger: logger,
	}
}

// UpsertMilestone writes one confirmed snapshot into the mirror.
func (r *MilestoneRepository) UpsertMilestone(ctx context.Context, m model.Milestone) error {
	query := `
        INSERT INTO milestones (id, component_id, name, sequence_order, weight,
            is_completed, percentage_value, quantity_complete, quantity_total,
            quantity_unit, completed_at, completed_by, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
        ON CONFLICT (id) DO UPDATE SET
            is_completed = EXCLUDED.is_completed,
            percentage_value = EXCLUDED.percentage_value,
            quantity_complete = EXCLUDED.quantity_complete,
            completed_at = EXCLUDED.completed_at,
            completed_by = EXCLUDED.completed_by,
            updated_at = EXCLUDED.updated_at
        WHERE milestones.updated_at <= EXCLUDED.updated_at
    `
	_, err := r.db.Exec(ctx, query,
		m.ID,
		m.ComponentID,
		m.Name,
		m.SequenceOrder,
		m.Weight,
		m.IsCompleted,
		m.PercentageValue,
		m.QuantityComplete,
		m.QuantityTotal,
		m.QuantityUnit,
		m.CompletedAt,
		m.CompletedBy,
		m.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to upsert milestone", zap.String("milestone_id", m.ID), zap.Error(err))
		return fmt.Errorf("failed to upsert milestone: %w", err)
	}
	return nil
}

// UpsertComponent writes a component header into the mirror.
func (r *MilestoneRepository) UpsertComponent(ctx context.Context, c model.Component) error {
	query := `
        INSERT INTO components (id, workflow_type, component_type)
        VALUES ($1, $2, $3)
        ON CONFLICT (id) DO UPDATE SET
            workflow_type = EXCLUDED.workflow_type,
            component_type = EXCLUDED.component_type
    `
	_, err := r.db.Exec(ctx, query, c.ID, c.WorkflowType, c.ComponentType)
	if err != nil {
		return fmt.Errorf("failed to upsert component: %w", err)
	}

	for _, m := range c.Milestones {
		if err := r.UpsertMilestone(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// GetComponent loads a component and its ordered milestones.
func (r *MilestoneRepository) GetComponent(ctx context.Context, componentID string) (*model.Component, error) {
	var c model.Component
	err := r.db.QueryRow(ctx, `
        SELECT id, workflow_type, component_type
        FROM components
        WHERE id = $1
    `, componentID).Scan(&c.ID, &c.WorkflowType, &c.ComponentType)
	if err != nil {
		return nil, fmt.Errorf("failed to load component %s: %w", componentID, err)
	}

	rows, err := r.db.Query(ctx, `
        SELECT id, component_id, name, sequence_order, weight, is_completed,
               percentage_value, quantity_complete, quantity_total,
               quantity_unit, completed_at, completed_by, updated_at
        FROM milestones
        WHERE component_id = $1
        ORDER BY sequence_order ASC
    `, componentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query milestones: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m model.Milestone
		err := rows.Scan(
			&m.ID,
			&m.ComponentID,
			&m.Name,
			&m.SequenceOrder,
			&m.Weight,
			&m.IsCompleted,
			&m.PercentageValue,
			&m.QuantityComplete,
			&m.QuantityTotal,
			&m.QuantityUnit,
			&m.CompletedAt,
			&m.CompletedBy,
			&m.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan milestone: %w", err)
		}
		c.Milestones = append(c.Milestones, m)
	}
	return &c, rows.Err()
}

// ListComponentIDs returns every mirrored component id, used to seed
// the store on startup.
func (r *MilestoneRepository) ListComponentIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM components ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list components: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
