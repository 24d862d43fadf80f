package visit

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edc/edc/internal/domain/metadata"
	"github.com/edc/edc/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const visitCols = `id, subject_id, visit_schedule_name, schedule_name, visit_code, visit_code_sequence,
	reason, report_datetime, created_at, updated_at`

func (r *repoPG) scan(row pgx.Row) (*Visit, error) {
	var v Visit
	err := row.Scan(&v.ID, &v.SubjectID, &v.VisitScheduleName, &v.ScheduleName, &v.VisitCode, &v.VisitCodeSequence,
		&v.Reason, &v.ReportDatetime, &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &v, err
}

func (r *repoPG) Create(ctx context.Context, v *Visit) error {
	v.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO subject_visit (id, subject_id, visit_schedule_name, schedule_name, visit_code, visit_code_sequence,
			reason, report_datetime)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		v.ID, v.SubjectID, v.VisitScheduleName, v.ScheduleName, v.VisitCode, v.VisitCodeSequence,
		v.Reason, v.ReportDatetime)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+visitCols+` FROM subject_visit WHERE id = $1`, id))
}

func (r *repoPG) GetByKey(ctx context.Context, key metadata.VisitKey) (*Visit, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `
		SELECT `+visitCols+` FROM subject_visit
		WHERE subject_id = $1 AND visit_schedule_name = $2 AND schedule_name = $3
			AND visit_code = $4 AND visit_code_sequence = $5`,
		key.SubjectID, key.VisitScheduleName, key.ScheduleName, key.VisitCode, key.VisitCodeSequence))
}

func (r *repoPG) Update(ctx context.Context, v *Visit) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE subject_visit SET reason=$2, report_datetime=$3, updated_at=NOW()
		WHERE id = $1`,
		v.ID, v.Reason, v.ReportDatetime)
	return err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM subject_visit WHERE id = $1`, id)
	return err
}

func (r *repoPG) ListBySubject(ctx context.Context, subjectID string, limit, offset int) ([]*Visit, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM subject_visit WHERE subject_id = $1`, subjectID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+visitCols+` FROM subject_visit
		WHERE subject_id = $1
		ORDER BY visit_code, visit_code_sequence
		LIMIT $2 OFFSET $3`, subjectID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Visit
	for rows.Next() {
		v, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, v)
	}
	return items, total, rows.Err()
}
