package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// DBFailure is the subset of a Postgres error worth logging. Both the pgx
// driver used by gorm and lib/pq surface the same SQLSTATE fields.
type DBFailure struct {
	Code       string `json:"code"`
	Constraint string `json:"constraint,omitempty"`
	Table      string `json:"table,omitempty"`
	Column     string `json:"column,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Class is the two character SQLSTATE class, e.g. "23" for integrity
// violations or "40" for serialization and deadlock aborts.
func (f DBFailure) Class() string {
	if len(f.Code) < 2 {
		return ""
	}
	return f.Code[:2]
}

type ErrorDump struct {
	TopMessage string     `json:"top_message"`
	Code       Code       `json:"code,omitempty"`
	Chain      []string   `json:"chain,omitempty"`
	DB         *DBFailure `json:"db,omitempty"`
}

// Dump flattens err for structured logs.
func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}
	d := ErrorDump{TopMessage: err.Error(), DB: dbFailure(err)}
	if te := As(err); te != nil {
		d.Code = te.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	return d
}

// Fields renders the dump as logger fields.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{
		"error":       d.TopMessage,
		"error_code":  d.Code,
		"error_chain": d.Chain,
	}
	if d.DB != nil {
		fields["pg_code"] = d.DB.Code
		fields["pg_class"] = d.DB.Class()
		if d.DB.Constraint != "" {
			fields["pg_constraint"] = d.DB.Constraint
		}
		if d.DB.Table != "" {
			fields["pg_table"] = d.DB.Table
		}
		if d.DB.Detail != "" {
			fields["pg_detail"] = d.DB.Detail
		}
	}
	return fields
}

func dbFailure(err error) *DBFailure {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return &DBFailure{
			Code:       pgxErr.Code,
			Constraint: pgxErr.ConstraintName,
			Table:      pgxErr.TableName,
			Column:     pgxErr.ColumnName,
			Detail:     pgxErr.Detail,
			Message:    pgxErr.Message,
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &DBFailure{
			Code:       string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Detail:     pqErr.Detail,
			Message:    pqErr.Message,
		}
	}
	return nil
}
