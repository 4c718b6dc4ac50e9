package employee

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"ems.org/internal/auth"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
	invalidTextRepr     = "22P02"
)

// PGStore implements Store on PostgreSQL. Deletes are soft.
type PGStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*PGStore)(nil)

// Open connects with the pgx stdlib driver.
func Open(dsn string) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewPGStore(db), nil
}

// NewPGStore wraps an existing handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *PGStore) Close() error { return s.db.Close() }

func (s *PGStore) DB() *sql.DB { return s.db }

const selectColumns = `select id, first_name, last_name, email, password_hash, status, role, coalesce(department_id::text, ''), created_at, updated_at from employees`

type scanner interface {
	Scan(dest ...any) error
}

func scanEmployee(row scanner) (Employee, error) {
	var e Employee
	var role string
	if err := row.Scan(&e.ID, &e.FirstName, &e.LastName, &e.Email, &e.PasswordHash, &e.Status, &role, &e.DepartmentID, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return Employee{}, err
	}
	e.Role = auth.Role(role)
	return e, nil
}

func (s *PGStore) Get(ctx context.Context, id string) (Employee, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Employee{}, auth.ErrNotFound
	}
	e, err := scanEmployee(s.db.QueryRowContext(ctx, selectColumns+` where id = $1 and deleted_at is null`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Employee{}, auth.ErrNotFound
	}
	if err != nil {
		return Employee{}, fmt.Errorf("get employee: %w", err)
	}
	return e, nil
}

func (s *PGStore) GetByEmail(ctx context.Context, email string) (Employee, error) {
	e, err := scanEmployee(s.db.QueryRowContext(ctx, selectColumns+` where email = $1 and deleted_at is null`, normalizeEmail(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return Employee{}, auth.ErrNotFound
	}
	if err != nil {
		return Employee{}, fmt.Errorf("get employee by email: %w", err)
	}
	return e, nil
}

func (s *PGStore) List(ctx context.Context, f Filter) ([]Employee, error) {
	var (
		where = []string{"deleted_at is null"}
		args  []any
	)
	if f.DepartmentID != "" {
		args = append(args, f.DepartmentID)
		where = append(where, fmt.Sprintf("department_id = $%d", len(args)))
	}
	if f.ExcludeID != "" {
		args = append(args, f.ExcludeID)
		where = append(where, fmt.Sprintf("id <> $%d", len(args)))
	}
	query := selectColumns + " where " + strings.Join(where, " and ") + " order by last_name, first_name, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	defer rows.Close()

	out := make([]Employee, 0)
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("scan employee: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PGStore) Create(ctx context.Context, e Employee) (Employee, error) {
	e.Normalize()
	if err := e.Validate(); err != nil {
		return Employee{}, err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := s.now()
	e.CreatedAt, e.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx, `
		insert into employees(id, first_name, last_name, email, password_hash, status, role, department_id, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, e.ID, e.FirstName, e.LastName, e.Email, e.PasswordHash, e.Status, string(e.Role), nullable(e.DepartmentID), e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return Employee{}, mapWriteError("create employee", err)
	}
	return e, nil
}

// Update replaces profile fields. The stored password hash is kept when e
// carries none.
func (s *PGStore) Update(ctx context.Context, e Employee) (Employee, error) {
	e.Normalize()
	if err := e.Validate(); err != nil {
		return Employee{}, err
	}
	if _, err := uuid.Parse(e.ID); err != nil {
		return Employee{}, auth.ErrNotFound
	}
	e.UpdatedAt = s.now()
	row := s.db.QueryRowContext(ctx, `
		update employees
		set first_name = $2, last_name = $3, email = $4, status = $5, role = $6, department_id = $7,
		    password_hash = coalesce(nullif($8, ''), password_hash), updated_at = $9
		where id = $1 and deleted_at is null
		returning password_hash, created_at
	`, e.ID, e.FirstName, e.LastName, e.Email, e.Status, string(e.Role), nullable(e.DepartmentID), e.PasswordHash, e.UpdatedAt)
	if err := row.Scan(&e.PasswordHash, &e.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Employee{}, auth.ErrNotFound
		}
		return Employee{}, mapWriteError("update employee", err)
	}
	return e, nil
}

func (s *PGStore) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return auth.ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, `update employees set deleted_at = $2 where id = $1 and deleted_at is null`, id, s.now())
	if err != nil {
		return fmt.Errorf("delete employee: %w", err)
	}
	return requireOneRow(res)
}

func (s *PGStore) UpdatePassword(ctx context.Context, email, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `update employees set password_hash = $2, updated_at = $3 where email = $1 and deleted_at is null`,
		normalizeEmail(email), passwordHash, s.now())
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return requireOneRow(res)
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return fmt.Errorf("%w: email already registered", auth.ErrConflict)
		case foreignKeyViolation:
			return fmt.Errorf("%w: department does not exist", auth.ErrInvalidInput)
		case invalidTextRepr:
			return fmt.Errorf("%w: department id is not a valid uuid", auth.ErrInvalidInput)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
