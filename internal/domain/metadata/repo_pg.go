package metadata

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edc/edc/internal/domain/schedule"
	"github.com/edc/edc/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== CRF Metadata Repository ===========

type crfRepoPG struct{ pool *pgxpool.Pool }

func NewCrfRepoPG(pool *pgxpool.Pool) CrfMetadataRepository {
	return &crfRepoPG{pool: pool}
}

func (r *crfRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const crfCols = `id, subject_id, visit_schedule_name, schedule_name, visit_code, visit_code_sequence,
	form_namespace, form_name, entry_status, show_order,
	due_datetime, report_datetime, close_datetime, fill_datetime, comment,
	created_at, updated_at`

const crfKeyWhere = `subject_id = $1 AND visit_schedule_name = $2 AND schedule_name = $3
	AND visit_code = $4 AND visit_code_sequence = $5`

func (r *crfRepoPG) scan(row pgx.Row) (*CrfMetadata, error) {
	var m CrfMetadata
	err := row.Scan(&m.ID, &m.SubjectID, &m.VisitScheduleName, &m.ScheduleName, &m.VisitCode, &m.VisitCodeSequence,
		&m.Form.Namespace, &m.Form.Name, &m.EntryStatus, &m.ShowOrder,
		&m.DueDatetime, &m.ReportDatetime, &m.CloseDatetime, &m.FillDatetime, &m.Comment,
		&m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &m, err
}

func (r *crfRepoPG) GetOrCreate(ctx context.Context, m *CrfMetadata) (*CrfMetadata, bool, error) {
	m.ID = uuid.New()
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO crf_metadata (id, subject_id, visit_schedule_name, schedule_name, visit_code, visit_code_sequence,
			form_namespace, form_name, entry_status, show_order,
			due_datetime, report_datetime, close_datetime, fill_datetime, comment)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT ON CONSTRAINT crf_metadata_natural_key DO NOTHING
		RETURNING `+crfCols,
		m.ID, m.SubjectID, m.VisitScheduleName, m.ScheduleName, m.VisitCode, m.VisitCodeSequence,
		m.Form.Namespace, m.Form.Name, m.EntryStatus, m.ShowOrder,
		m.DueDatetime, m.ReportDatetime, m.CloseDatetime, m.FillDatetime, m.Comment)

	created, err := r.scan(row)
	if errors.Is(err, ErrNotFound) {
		existing, err := r.Get(ctx, m.VisitKey, m.Form)
		return existing, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

func (r *crfRepoPG) Get(ctx context.Context, key VisitKey, form schedule.FormRef) (*CrfMetadata, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `
		SELECT `+crfCols+` FROM crf_metadata
		WHERE `+crfKeyWhere+` AND form_namespace = $6 AND form_name = $7`,
		key.SubjectID, key.VisitScheduleName, key.ScheduleName, key.VisitCode, key.VisitCodeSequence,
		form.Namespace, form.Name))
}

func (r *crfRepoPG) Update(ctx context.Context, m *CrfMetadata) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE crf_metadata SET entry_status=$2, show_order=$3,
			due_datetime=$4, report_datetime=$5, close_datetime=$6, fill_datetime=$7,
			comment=$8, updated_at=NOW()
		WHERE id = $1`,
		m.ID, m.EntryStatus, m.ShowOrder,
		m.DueDatetime, m.ReportDatetime, m.CloseDatetime, m.FillDatetime, m.Comment)
	return err
}

func (r *crfRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM crf_metadata WHERE id = $1`, id)
	return err
}

func (r *crfRepoPG) ListForVisit(ctx context.Context, key VisitKey) ([]*CrfMetadata, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+crfCols+` FROM crf_metadata
		WHERE `+crfKeyWhere+` ORDER BY show_order`,
		key.SubjectID, key.VisitScheduleName, key.ScheduleName, key.VisitCode, key.VisitCodeSequence)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*CrfMetadata
	for rows.Next() {
		m, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (r *crfRepoPG) DeleteForVisitExcept(ctx context.Context, key VisitKey, keep ...EntryStatus) (int, error) {
	kept := make([]string, len(keep))
	for i, s := range keep {
		kept[i] = string(s)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM crf_metadata
		WHERE `+crfKeyWhere+` AND NOT (entry_status = ANY($6))`,
		key.SubjectID, key.VisitScheduleName, key.ScheduleName, key.VisitCode, key.VisitCodeSequence,
		kept)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *crfRepoPG) BulkSetStatusForVisit(ctx context.Context, key VisitKey, status EntryStatus) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE crf_metadata SET entry_status = $6, updated_at = NOW()
		WHERE `+crfKeyWhere+` AND entry_status <> $7`,
		key.SubjectID, key.VisitScheduleName, key.ScheduleName, key.VisitCode, key.VisitCodeSequence,
		status, StatusKeyed)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *crfRepoPG) NextRequired(ctx context.Context, key VisitKey, afterShowOrder int) (*CrfMetadata, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `
		SELECT `+crfCols+` FROM crf_metadata
		WHERE `+crfKeyWhere+` AND entry_status = $6 AND show_order > $7
		ORDER BY show_order LIMIT 1`,
		key.SubjectID, key.VisitScheduleName, key.ScheduleName, key.VisitCode, key.VisitCodeSequence,
		StatusRequired, afterShowOrder))
}

func (r *crfRepoPG) ListByStatus(ctx context.Context, subjectID string, status EntryStatus, limit, offset int) ([]*CrfMetadata, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM crf_metadata WHERE subject_id = $1 AND entry_status = $2`,
		subjectID, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+crfCols+` FROM crf_metadata
		WHERE subject_id = $1 AND entry_status = $2
		ORDER BY visit_code, visit_code_sequence, show_order
		LIMIT $3 OFFSET $4`,
		subjectID, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*CrfMetadata
	for rows.Next() {
		m, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}

// =========== Requisition Metadata Repository ===========

type requisitionRepoPG struct{ pool *pgxpool.Pool }

func NewRequisitionRepoPG(pool *pgxpool.Pool) RequisitionMetadataRepository {
	return &requisitionRepoPG{pool: pool}
}

func (r *requisitionRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const reqCols = `id, subject_id, visit_schedule_name, schedule_name, visit_code, visit_code_sequence,
	form_namespace, form_name, panel_name, entry_status, show_order,
	due_datetime, report_datetime, close_datetime, fill_datetime, comment,
	created_at, updated_at`

func (r *requisitionRepoPG) scan(row pgx.Row) (*RequisitionMetadata, error) {
	var m RequisitionMetadata
	err := row.Scan(&m.ID, &m.SubjectID, &m.VisitScheduleName, &m.ScheduleName, &m.VisitCode, &m.VisitCodeSequence,
		&m.Form.Namespace, &m.Form.Name, &m.PanelName, &m.EntryStatus, &m.ShowOrder,
		&m.DueDatetime, &m.ReportDatetime, &m.CloseDatetime, &m.FillDatetime, &m.Comment,
		&m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &m, err
}

func (r *requisitionRepoPG) GetOrCreate(ctx context.Context, m *RequisitionMetadata) (*RequisitionMetadata, bool, error) {
	m.ID = uuid.New()
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO requisition_metadata (id, subject_id, visit_schedule_name, schedule_name, visit_code, visit_code_sequence,
			form_namespace, form_name, panel_name, entry_status, show_order,
			due_datetime, report_datetime, close_datetime, fill_datetime, comment)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT ON CONSTRAINT requisition_metadata_natural_key DO NOTHING
		RETURNING `+reqCols,
		m.ID, m.SubjectID, m.VisitScheduleName, m.ScheduleName, m.VisitCode, m.VisitCodeSequence,
		m.Form.Namespace, m.Form.Name, m.PanelName, m.EntryStatus, m.ShowOrder,
		m.DueDatetime, m.ReportDatetime, m.CloseDatetime, m.FillDatetime, m.Comment)

	created, err := r.scan(row)
	if errors.Is(err, ErrNotFound) {
		existing, err := r.Get(ctx, m.VisitKey, m.Form, m.PanelName)
		return existing, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

func (r *requisitionRepoPG) Get(ctx context.Context, key VisitKey, form schedule.FormRef, panel string) (*RequisitionMetadata, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `
		SELECT `+reqCols+` FROM requisition_metadata
		WHERE `+crfKeyWhere+` AND form_namespace = $6 AND form_name = $7 AND panel_name = $8`,
		key.SubjectID, key.VisitScheduleName, key.ScheduleName, key.VisitCode, key.VisitCodeSequence,
		form.Namespace, form.Name, panel))
}

func (r *requisitionRepoPG) Update(ctx context.Context, m *RequisitionMetadata) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE requisition_metadata SET entry_status=$2, show_order=$3,
			due_datetime=$4, report_datetime=$5, close_datetime=$6, fill_datetime=$7,
			comment=$8, updated_at=NOW()
		WHERE id = $1`,
		m.ID, m.EntryStatus, m.ShowOrder,
		m.DueDatetime, m.ReportDatetime, m.CloseDatetime, m.FillDatetime, m.Comment)
	return err
}

func (r *requisitionRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM requisition_metadata WHERE id = $1`, id)
	return err
}

func (r *requisitionRepoPG) ListForVisit(ctx context.Context, key VisitKey) ([]*RequisitionMetadata, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+reqCols+` FROM requisition_metadata
		WHERE `+crfKeyWhere+` ORDER BY show_order`,
		key.SubjectID, key.VisitScheduleName, key.ScheduleName, key.VisitCode, key.VisitCodeSequence)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*RequisitionMetadata
	for rows.Next() {
		m, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (r *requisitionRepoPG) DeleteForVisitExcept(ctx context.Context, key VisitKey, keep ...EntryStatus) (int, error) {
	kept := make([]string, len(keep))
	for i, s := range keep {
		kept[i] = string(s)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM requisition_metadata
		WHERE `+crfKeyWhere+` AND NOT (entry_status = ANY($6))`,
		key.SubjectID, key.VisitScheduleName, key.ScheduleName, key.VisitCode, key.VisitCodeSequence,
		kept)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *requisitionRepoPG) BulkSetStatusForVisit(ctx context.Context, key VisitKey, status EntryStatus) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE requisition_metadata SET entry_status = $6, updated_at = NOW()
		WHERE `+crfKeyWhere+` AND entry_status <> $7`,
		key.SubjectID, key.VisitScheduleName, key.ScheduleName, key.VisitCode, key.VisitCodeSequence,
		status, StatusKeyed)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *requisitionRepoPG) ListByStatus(ctx context.Context, subjectID string, status EntryStatus, limit, offset int) ([]*RequisitionMetadata, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM requisition_metadata WHERE subject_id = $1 AND entry_status = $2`,
		subjectID, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+reqCols+` FROM requisition_metadata
		WHERE subject_id = $1 AND entry_status = $2
		ORDER BY visit_code, visit_code_sequence, show_order
		LIMIT $3 OFFSET $4`,
		subjectID, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*RequisitionMetadata
	for rows.Next() {
		m, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}
