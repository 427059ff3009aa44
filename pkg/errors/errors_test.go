package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeUserError, status: http.StatusBadRequest, publicMsg: "request rejected", detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized, publicMsg: "authentication required"},
		{code: CodeForbidden, status: http.StatusForbidden, publicMsg: "access denied"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected", detailsOK: true},
		{code: CodeContention, status: http.StatusConflict, publicMsg: "concurrent update, please retry", retryable: true},
		{code: CodeRateLimited, status: http.StatusTooManyRequests, publicMsg: "too many requests", retryable: true},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestNewUserErrorCarriesReasonAndItem(t *testing.T) {
	err := NewUserError("stock", "Hoodie", "not enough units in stock")
	if err.Code() != CodeUserError {
		t.Fatalf("unexpected code %s", err.Code())
	}
	details, ok := err.Details().(map[string]any)
	if !ok {
		t.Fatalf("expected map details, got %T", err.Details())
	}
	if details["reason"] != "stock" || details["item"] != "Hoodie" {
		t.Fatalf("unexpected details %v", details)
	}
}

func TestWrapAndIsCode(t *testing.T) {
	cause := stdErrors.New("boom")
	wrapped := fmt.Errorf("outer: %w", Wrap(CodeConflict, cause, "ctx"))
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if !IsCode(wrapped, CodeConflict) {
		t.Fatalf("expected conflict code through wrapping")
	}
	if IsCode(cause, CodeConflict) {
		t.Fatalf("plain errors carry no code")
	}
}

func TestDumpExtractsPgxFields(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "40001", Message: "could not serialize access", TableName: "merch_item_options"}
	dump := Dump(Wrap(CodeDependency, pgErr, "place order"))
	if dump.Code != CodeDependency {
		t.Fatalf("unexpected code %s", dump.Code)
	}
	if dump.PGCode != "40001" || dump.PGTable != "merch_item_options" {
		t.Fatalf("unexpected pg fields %+v", dump)
	}
	if len(dump.Chain) != 2 {
		t.Fatalf("expected chain of 2, got %d", len(dump.Chain))
	}
}

func TestWrapDBClassifiesSQLState(t *testing.T) {
	tests := []struct {
		state string
		want  Code
	}{
		{state: "40001", want: CodeContention},
		{state: "40P01", want: CodeContention},
		{state: "23505", want: CodeConflict},
		{state: "23503", want: CodeValidation},
		{state: "08006", want: CodeDependency},
	}
	for _, tt := range tests {
		err := WrapDB(&pgconn.PgError{Code: tt.state}, "db: update option")
		if err.Code() != tt.want {
			t.Fatalf("state %s: expected %s got %s", tt.state, tt.want, err.Code())
		}
	}
	if got := WrapDB(stdErrors.New("connection reset"), "db").Code(); got != CodeDependency {
		t.Fatalf("plain error expected dependency, got %s", got)
	}
}

func TestRetryableAndMessageExposure(t *testing.T) {
	if !New(CodeContention, "x").Retryable() {
		t.Fatalf("contention should be retryable")
	}
	if New(CodeUserError, "x").Retryable() {
		t.Fatalf("user errors are final")
	}
	if MetadataFor(CodeContention).ExposeMessage || MetadataFor(CodeInternal).ExposeMessage {
		t.Fatalf("contention and internal errors keep their public message")
	}
	err := Wrap(CodeDependency, stdErrors.New("dial tcp: refused"), "load user")
	if got := err.Error(); got != "DEPENDENCY_ERROR: load user: dial tcp: refused" {
		t.Fatalf("unexpected message %q", got)
	}
}
