package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"templatebot/pkg/logx"
)

// dialect captures the few differences between the SQL backends.
type dialect struct {
	name        string
	dollarArgs  bool   // $1.. instead of ?
	lockForRead string // suffix for the read inside Update
	isUnique    func(error) bool
}

// sqlStore implements Store on database/sql for sqlite and postgres.
// Timestamps are stored as unix milliseconds so both schemas match.
type sqlStore struct {
	db  *sql.DB
	d   dialect
	log logx.Logger
	now func() time.Time
}

const templateCols = `id, name, text, image_path, button_text, button_url, created_at, updated_at`

func (s *sqlStore) q(query string) string {
	if !s.d.dollarArgs {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(r rowScanner) (Template, error) {
	var (
		t                    Template
		img, btnText, btnURL sql.NullString
		createdMs, updatedMs int64
	)
	if err := r.Scan(&t.ID, &t.Name, &t.Text, &img, &btnText, &btnURL, &createdMs, &updatedMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Template{}, ErrNotFound
		}
		return Template{}, err
	}
	t.ImagePath = img.String
	t.ButtonText = btnText.String
	t.ButtonURL = btnURL.String
	t.CreatedAt = time.UnixMilli(createdMs).UTC()
	t.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return t, nil
}

func (s *sqlStore) Create(ctx context.Context, n NewTemplate) (Template, error) {
	t := n.template(s.now().UTC())
	if err := t.validate(); err != nil {
		return Template{}, err
	}
	row := s.db.QueryRowContext(ctx, s.q(
		`INSERT INTO templates(name, text, image_path, button_text, button_url, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?) RETURNING `+templateCols),
		t.Name, t.Text, nullStr(t.ImagePath), nullStr(t.ButtonText), nullStr(t.ButtonURL),
		t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli(),
	)
	out, err := scanTemplate(row)
	if err != nil {
		if s.d.isUnique(err) {
			return Template{}, ErrDuplicateName
		}
		return Template{}, fmt.Errorf("insert template: %w", err)
	}
	return out, nil
}

func (s *sqlStore) GetByID(ctx context.Context, id int64) (Template, error) {
	return scanTemplate(s.db.QueryRowContext(ctx, s.q(`SELECT `+templateCols+` FROM templates WHERE id = ?`), id))
}

func (s *sqlStore) GetByName(ctx context.Context, name string) (Template, error) {
	return scanTemplate(s.db.QueryRowContext(ctx, s.q(`SELECT `+templateCols+` FROM templates WHERE name = ?`), name))
}

// Update reads, patches and writes the row in one transaction.
func (s *sqlStore) Update(ctx context.Context, id int64, p Patch) (Template, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Template{}, err
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := scanTemplate(tx.QueryRowContext(ctx,
		s.q(`SELECT `+templateCols+` FROM templates WHERE id = ?`+s.d.lockForRead), id))
	if err != nil {
		return Template{}, err
	}
	upd := p.Apply(cur)
	if err := upd.validate(); err != nil {
		return Template{}, err
	}
	upd.UpdatedAt = s.now().UTC()

	if _, err := tx.ExecContext(ctx, s.q(
		`UPDATE templates SET text = ?, image_path = ?, button_text = ?, button_url = ?, updated_at = ? WHERE id = ?`),
		upd.Text, nullStr(upd.ImagePath), nullStr(upd.ButtonText), nullStr(upd.ButtonURL),
		upd.UpdatedAt.UnixMilli(), id,
	); err != nil {
		return Template{}, fmt.Errorf("update template %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return Template{}, err
	}
	return upd, nil
}

func (s *sqlStore) Delete(ctx context.Context, id int64) (Template, error) {
	return scanTemplate(s.db.QueryRowContext(ctx,
		s.q(`DELETE FROM templates WHERE id = ? RETURNING `+templateCols), id))
}

func (s *sqlStore) List(ctx context.Context) ([]Template, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+templateCols+` FROM templates ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}
