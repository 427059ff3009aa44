package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

type ErrorDump struct {
	TopMessage string `json:"top_message"`
	Code       Code   `json:"code,omitempty"`

	Chain []string `json:"chain,omitempty"`

	PGCode       string `json:"pg_code,omitempty"`
	PGConstraint string `json:"pg_constraint,omitempty"`
	PGTable      string `json:"pg_table,omitempty"`
	PGDetail     string `json:"pg_detail,omitempty"`
	PGMessage    string `json:"pg_message,omitempty"`
}

// Dump flattens an error chain for structured logging.
func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{TopMessage: err.Error()}
	if te := As(err); te != nil {
		d.Code = te.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	if pgErr := postgresError(err); pgErr != nil {
		d.PGCode = pgErr.code
		d.PGConstraint = pgErr.constraint
		d.PGTable = pgErr.table
		d.PGDetail = pgErr.detail
		d.PGMessage = pgErr.message
	}
	return d
}

// SQLState returns the Postgres SQLSTATE carried by err, or "" when none.
func SQLState(err error) string {
	if pgErr := postgresError(err); pgErr != nil {
		return pgErr.code
	}
	return ""
}

type pgFields struct {
	code       string
	constraint string
	table      string
	detail     string
	message    string
}

func postgresError(err error) *pgFields {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return &pgFields{
			code:       pgxErr.Code,
			constraint: pgxErr.ConstraintName,
			table:      pgxErr.TableName,
			detail:     pgxErr.Detail,
			message:    pgxErr.Message,
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &pgFields{
			code:       string(pqErr.Code),
			constraint: pqErr.Constraint,
			table:      pqErr.Table,
			detail:     pqErr.Detail,
			message:    pqErr.Message,
		}
	}
	return nil
}
