package repository

import (
	"context"

	"github.com/pesio-ai/be-qms-documents/internal/database"
	"github.com/pesio-ai/be-qms-documents/internal/errors"
)

// ApprovalHistoryRepository appends and reads immutable approval history
// entries. The table has an update/delete-prevention trigger so Append is the
// only mutation exposed.
type ApprovalHistoryRepository struct {
	q database.Querier
}

// NewApprovalHistoryRepository creates a new ApprovalHistoryRepository.
func NewApprovalHistoryRepository(q database.Querier) *ApprovalHistoryRepository {
	return &ApprovalHistoryRepository{q: q}
}

// AppendHistory inserts one entry. performed_at is assigned here and is
// strictly later than every earlier entry of the same version, even when the
// wall clock does not advance between two decisions.
func (r *ApprovalHistoryRepository) AppendHistory(ctx context.Context, entry *HistoryEntry) error {
	query := `
		INSERT INTO approval_history
		    (company_id, document_id, version_id, task_id,
		     action, actor_id, actor_role, step_number, notes,
		     performed_at)
		VALUES ($1, $2, $3, $4,
		        $5, $6, $7, $8, $9,
		        GREATEST(
		            clock_timestamp(),
		            (SELECT MAX(performed_at) + INTERVAL '1 microsecond'
		             FROM approval_history WHERE version_id = $3)
		        ))
		RETURNING seq, id, performed_at
	`

	err := r.q.QueryRow(ctx, query,
		entry.CompanyID,
		entry.DocumentID,
		entry.VersionID,
		entry.TaskID,
		entry.Action,
		entry.ActorID,
		entry.ActorRole,
		entry.StepNumber,
		entry.Notes,
	).Scan(&entry.Seq, &entry.ID, &entry.PerformedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append approval history")
	}
	return nil
}

// ListHistory returns the history of a version ordered oldest-first.
func (r *ApprovalHistoryRepository) ListHistory(ctx context.Context, companyID, versionID string) ([]*HistoryEntry, error) {
	if !validID(versionID) {
		return []*HistoryEntry{}, nil
	}
	query := `
		SELECT seq, id, company_id, document_id, version_id, task_id,
		       action, actor_id, actor_role, step_number, notes, performed_at
		FROM approval_history
		WHERE version_id = $1 AND company_id = $2
		ORDER BY performed_at ASC, seq ASC
	`

	rows, err := r.q.Query(ctx, query, versionID, companyID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval history")
	}
	defer rows.Close()

	entries := make([]*HistoryEntry, 0)
	for rows.Next() {
		e := &HistoryEntry{}
		err := rows.Scan(
			&e.Seq,
			&e.ID,
			&e.CompanyID,
			&e.DocumentID,
			&e.VersionID,
			&e.TaskID,
			&e.Action,
			&e.ActorID,
			&e.ActorRole,
			&e.StepNumber,
			&e.Notes,
			&e.PerformedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval history entry")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
