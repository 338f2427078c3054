package records

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dellavolpe/rnc-front/internal/log"
)

// ErrNotFound is returned when no live row matches an ID.
var ErrNotFound = errors.New("record not found")

//go:embed schema.sql
var schemaSQL string

// Companies lists the accepted values for Record.Empresa.
var Companies = []string{"Raizen", "Oxiteno", "Outros"}

// Record is one row of "RNC_Registros".
type Record struct {
	ID               int64
	Motivo           string
	Empresa          string
	Filial           string
	OEF              string
	NF               string
	ValorNota        float64
	RNC              string
	DataEnvioFilial  *time.Time
	Status           string
	DataEncerramento *time.Time
	DataRetorno      *time.Time
	IDAcao           *int64
	CriadoPorEmail   string
	CriadoPorID      string
	Excluido         bool
}

// Reason is one row of "RNC_Motivos".
type Reason struct {
	ID       int64
	Motivo   string
	Excluido bool
}

// Store reads and writes RNC records. Rows are never physically deleted.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres through the pgx driver and checks the connection.
func Open(ctx context.Context, dsn string, maxOpenConns int) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return db, nil
}

// NewStore wraps db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureSchema creates the tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	log.LogInfoWithFields("records", "Schema ensured", nil)
	return nil
}

const recordColumns = `"ID", "Motivo", "Empresa", "Filial", oef, nf, valor_nota, rnc,
	data_envio_filial, status, data_encerramento, data_retorno, id_acao,
	criado_por_email, criado_por_id, excluido`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		r                        Record
		envio, encerramento, ret sql.NullTime
		status, email, criadoPor sql.NullString
		idAcao                   sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.Motivo, &r.Empresa, &r.Filial, &r.OEF, &r.NF, &r.ValorNota, &r.RNC,
		&envio, &status, &encerramento, &ret, &idAcao, &email, &criadoPor, &r.Excluido); err != nil {
		return nil, err
	}
	r.DataEnvioFilial = timePtr(envio)
	r.DataEncerramento = timePtr(encerramento)
	r.DataRetorno = timePtr(ret)
	r.Status = status.String
	r.CriadoPorEmail = email.String
	r.CriadoPorID = criadoPor.String
	if idAcao.Valid {
		v := idAcao.Int64
		r.IDAcao = &v
	}
	return &r, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullString(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var res []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

// ListRecords returns every live record ordered by ID.
func (s *Store) ListRecords(ctx context.Context) ([]*Record, error) {
	return s.queryRecords(ctx,
		`select `+recordColumns+` from "RNC_Registros" where not excluido order by "ID"`)
}

// SearchRecords matches an all-digit query against the ID and anything else
// against rnc, case-insensitively. An empty query lists everything.
func (s *Store) SearchRecords(ctx context.Context, query string) ([]*Record, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.ListRecords(ctx)
	}
	if id, err := strconv.ParseInt(query, 10, 64); err == nil && isDigits(query) {
		return s.queryRecords(ctx,
			`select `+recordColumns+` from "RNC_Registros" where not excluido and "ID" = $1 order by "ID"`, id)
	}
	return s.queryRecords(ctx,
		`select `+recordColumns+` from "RNC_Registros" where not excluido and rnc ilike $1 escape '\' order by "ID"`,
		"%"+escapeLike(query)+"%")
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// GetRecord returns the live record with id.
func (s *Store) GetRecord(ctx context.Context, id int64) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+recordColumns+` from "RNC_Registros" where "ID" = $1 and not excluido`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading record %d: %w", id, err)
	}
	return r, nil
}

// InsertRecord stores r under the next free ID and returns it. The ID is
// allocated inside the inserting transaction.
func (s *Store) InsertRecord(ctx context.Context, r Record) (int64, error) {
	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `lock table "RNC_Registros" in share row exclusive mode`); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `select coalesce(max("ID"), 0) + 1 from "RNC_Registros"`).Scan(&id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`insert into "RNC_Registros"(`+recordColumns+`)
			values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,false)`,
			id, r.Motivo, r.Empresa, r.Filial, r.OEF, r.NF, r.ValorNota, r.RNC,
			nullTime(r.DataEnvioFilial), nullString(r.Status), nullTime(r.DataEncerramento), nullTime(r.DataRetorno),
			nullInt(r.IDAcao), nullString(r.CriadoPorEmail), nullString(r.CriadoPorID),
		)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("inserting record: %w", err)
	}
	log.LogInfoCtx(ctx, "records", "Record created", map[string]any{
		"id":    id,
		"rnc":   r.RNC,
		"email": r.CriadoPorEmail,
	})
	return id, nil
}

// UpdateRecord replaces the editable fields of record id. The audit fields
// (creator email and ID) are never touched.
func (s *Store) UpdateRecord(ctx context.Context, id int64, r Record) error {
	res, err := s.db.ExecContext(ctx,
		`update "RNC_Registros" set "Motivo"=$1, "Empresa"=$2, "Filial"=$3, oef=$4, nf=$5, valor_nota=$6, rnc=$7,
		data_envio_filial=$8, status=$9, data_encerramento=$10, data_retorno=$11, id_acao=$12
		where "ID"=$13 and not excluido`,
		r.Motivo, r.Empresa, r.Filial, r.OEF, r.NF, r.ValorNota, r.RNC,
		nullTime(r.DataEnvioFilial), nullString(r.Status), nullTime(r.DataEncerramento), nullTime(r.DataRetorno),
		nullInt(r.IDAcao), id,
	)
	if err != nil {
		return fmt.Errorf("updating record %d: %w", id, err)
	}
	if err := expectOne(res); err != nil {
		return err
	}
	log.LogInfoCtx(ctx, "records", "Record updated", map[string]any{"id": id})
	return nil
}

// SoftDeleteRecord marks record id as deleted.
func (s *Store) SoftDeleteRecord(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`update "RNC_Registros" set excluido = true where "ID" = $1 and not excluido`, id)
	if err != nil {
		return fmt.Errorf("deleting record %d: %w", id, err)
	}
	if err := expectOne(res); err != nil {
		return err
	}
	log.LogInfoCtx(ctx, "records", "Record deleted", map[string]any{"id": id})
	return nil
}

// ListReasons returns the live reasons ordered by name.
func (s *Store) ListReasons(ctx context.Context) ([]*Reason, error) {
	rows, err := s.db.QueryContext(ctx,
		`select "ID", "Motivo", excluido from "RNC_Motivos" where not excluido order by "Motivo"`)
	if err != nil {
		return nil, fmt.Errorf("querying reasons: %w", err)
	}
	defer rows.Close()

	var res []*Reason
	for rows.Next() {
		var r Reason
		if err := rows.Scan(&r.ID, &r.Motivo, &r.Excluido); err != nil {
			return nil, fmt.Errorf("scanning reason: %w", err)
		}
		res = append(res, &r)
	}
	return res, rows.Err()
}

// InsertReason adds a reason under the next free ID.
func (s *Store) InsertReason(ctx context.Context, name string) (*Reason, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ValidationErrors{{Field: "motivo", Message: "O motivo não pode ser vazio"}}
	}

	reason := &Reason{Motivo: name}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `lock table "RNC_Motivos" in share row exclusive mode`); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `select coalesce(max("ID"), 0) + 1 from "RNC_Motivos"`).Scan(&reason.ID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`insert into "RNC_Motivos"("ID", "Motivo", excluido) values($1, $2, false)`, reason.ID, name)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("inserting reason: %w", err)
	}
	log.LogInfoCtx(ctx, "records", "Reason created", map[string]any{"id": reason.ID, "motivo": name})
	return reason, nil
}

// SoftDeleteReason marks reason id as deleted.
func (s *Store) SoftDeleteReason(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`update "RNC_Motivos" set excluido = true where "ID" = $1 and not excluido`, id)
	if err != nil {
		return fmt.Errorf("deleting reason %d: %w", id, err)
	}
	if err := expectOne(res); err != nil {
		return err
	}
	log.LogInfoCtx(ctx, "records", "Reason deleted", map[string]any{"id": id})
	return nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
