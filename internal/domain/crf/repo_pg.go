package crf

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edc/edc/internal/domain/metadata"
	"github.com/edc/edc/internal/domain/schedule"
	"github.com/edc/edc/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) SubmissionRepository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const subCols = `id, subject_id, visit_schedule_name, schedule_name, visit_code, visit_code_sequence,
	form_namespace, form_name, panel_name, data, report_datetime, created_at, updated_at`

const subKeyWhere = `subject_id = $1 AND visit_schedule_name = $2 AND schedule_name = $3
	AND visit_code = $4 AND visit_code_sequence = $5`

func (r *repoPG) scan(row pgx.Row) (*Submission, error) {
	var s Submission
	err := row.Scan(&s.ID, &s.SubjectID, &s.VisitScheduleName, &s.ScheduleName, &s.VisitCode, &s.VisitCodeSequence,
		&s.Form.Namespace, &s.Form.Name, &s.PanelName, &s.Data, &s.ReportDatetime, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &s, err
}

func (r *repoPG) Upsert(ctx context.Context, s *Submission) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO form_submission (id, subject_id, visit_schedule_name, schedule_name, visit_code, visit_code_sequence,
			form_namespace, form_name, panel_name, data, report_datetime)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT ON CONSTRAINT form_submission_natural_key
		DO UPDATE SET data = EXCLUDED.data, report_datetime = EXCLUDED.report_datetime, updated_at = NOW()`,
		s.ID, s.SubjectID, s.VisitScheduleName, s.ScheduleName, s.VisitCode, s.VisitCodeSequence,
		s.Form.Namespace, s.Form.Name, s.PanelName, s.Data, s.ReportDatetime)
	return err
}

func (r *repoPG) Get(ctx context.Context, key metadata.VisitKey, form schedule.FormRef, panel string) (*Submission, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `
		SELECT `+subCols+` FROM form_submission
		WHERE `+subKeyWhere+` AND form_namespace = $6 AND form_name = $7 AND panel_name = $8`,
		key.SubjectID, key.VisitScheduleName, key.ScheduleName, key.VisitCode, key.VisitCodeSequence,
		form.Namespace, form.Name, panel))
}

func (r *repoPG) Exists(ctx context.Context, key metadata.VisitKey, form schedule.FormRef, panel string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM form_submission
			WHERE `+subKeyWhere+` AND form_namespace = $6 AND form_name = $7 AND panel_name = $8
		)`,
		key.SubjectID, key.VisitScheduleName, key.ScheduleName, key.VisitCode, key.VisitCodeSequence,
		form.Namespace, form.Name, panel).Scan(&exists)
	return exists, err
}

func (r *repoPG) Delete(ctx context.Context, key metadata.VisitKey, form schedule.FormRef, panel string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM form_submission
		WHERE `+subKeyWhere+` AND form_namespace = $6 AND form_name = $7 AND panel_name = $8`,
		key.SubjectID, key.VisitScheduleName, key.ScheduleName, key.VisitCode, key.VisitCodeSequence,
		form.Namespace, form.Name, panel)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) ListForVisit(ctx context.Context, key metadata.VisitKey) ([]*Submission, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+subCols+` FROM form_submission
		WHERE `+subKeyWhere+` ORDER BY form_namespace, form_name, panel_name`,
		key.SubjectID, key.VisitScheduleName, key.ScheduleName, key.VisitCode, key.VisitCodeSequence)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Submission
	for rows.Next() {
		s, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}
