package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestReconcilerError(t *testing.T) {
	tests := []struct {
		name       string
		category   ErrorCategory
		code       ErrorCode
		message    string
		cause      error
		expectCode int
	}{
		{
			name:       "file error",
			category:   CategoryFile,
			code:       CodeFileNotFound,
			message:    "file not found",
			cause:      errors.New("no such file"),
			expectCode: 2,
		},
		{
			name:       "validation error",
			category:   CategoryValidation,
			code:       CodeInvalidRequest,
			message:    "invalid request",
			expectCode: 3,
		},
		{
			name:       "not found",
			category:   CategoryNotFound,
			code:       CodeLocationNotFound,
			message:    "location missing",
			expectCode: 5,
		},
		{
			name:       "conflict",
			category:   CategoryConflict,
			code:       CodeDuplicateShift,
			message:    "already closed",
			cause:      errors.New("unique violation"),
			expectCode: 6,
		},
		{
			name:       "persistence",
			category:   CategoryPersistence,
			code:       CodeTransactionFailed,
			message:    "rollback",
			expectCode: 7,
		},
		{
			name:       "internal",
			category:   CategoryInternal,
			code:       CodeUnexpectedError,
			message:    "boom",
			expectCode: 8,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err *ReconcilerError
			if tt.cause != nil {
				err = Wrap(tt.cause, tt.category, tt.code, tt.message)
			} else {
				err = New(tt.category, tt.code, tt.message)
			}

			if err.Category != tt.category {
				t.Errorf("expected category %s, got %s", tt.category, err.Category)
			}
			if err.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, err.Code)
			}
			if err.GetExitCode() != tt.expectCode {
				t.Errorf("expected exit code %d, got %d", tt.expectCode, err.GetExitCode())
			}

			expected := tt.message
			if tt.cause != nil {
				expected = fmt.Sprintf("%s: %v", tt.message, tt.cause)
				if !errors.Is(err, tt.cause) {
					t.Errorf("expected error chain to contain %v", tt.cause)
				}
			}
			if err.Error() != expected {
				t.Errorf("expected error string %q, got %q", expected, err.Error())
			}
		})
	}
}

func TestReconcilerErrorWithContext(t *testing.T) {
	err := New(CategoryValidation, CodeMissingField, "test error").
		WithContext("field", "location_id").
		WithContext("line", 42).
		WithSuggestion("send a location")

	if err.Context["field"] != "location_id" {
		t.Errorf("expected field context, got %v", err.Context["field"])
	}
	if err.Context["line"] != 42 {
		t.Errorf("expected line context 42, got %v", err.Context["line"])
	}

	expected := "test error (suggestion: send a location)"
	if err.Error() != expected {
		t.Errorf("expected error string '%s', got '%s'", expected, err.Error())
	}
}

func TestSpecificErrorConstructors(t *testing.T) {
	t.Run("NotFoundError", func(t *testing.T) {
		err := NotFoundError(CodeLocationNotFound, "location", uint(7), nil)
		if err.Category != CategoryNotFound {
			t.Errorf("expected not_found category, got %s", err.Category)
		}
		if !strings.Contains(err.Message, "location 7") {
			t.Errorf("expected message to name the location, got %s", err.Message)
		}
		if err.Context["id"] != uint(7) {
			t.Errorf("expected id context, got %v", err.Context["id"])
		}
	})

	t.Run("ConflictError", func(t *testing.T) {
		cause := errors.New("Duplicate entry")
		err := ConflictError(CodeDuplicateShift, "1/2024-03-01/06:00-14:00", cause)
		if err.Category != CategoryConflict {
			t.Errorf("expected conflict category, got %s", err.Category)
		}
		if err.Cause != cause {
			t.Errorf("expected cause to be preserved")
		}
		if err.Context["shift_key"] != "1/2024-03-01/06:00-14:00" {
			t.Errorf("expected shift_key context, got %v", err.Context["shift_key"])
		}
	})

	t.Run("ValidationError", func(t *testing.T) {
		err := ValidationError(CodeInvalidTime, "shift_end", "yesterday", nil)
		if err.Category != CategoryValidation {
			t.Errorf("expected validation category, got %s", err.Category)
		}
		if err.Suggestion == "" {
			t.Error("expected a suggestion")
		}
	})

	t.Run("InventoryError", func(t *testing.T) {
		err := InventoryError(CodeInsufficientStock, "OIL-1L", nil)
		if err.Context["product_code"] != "OIL-1L" {
			t.Errorf("expected product_code context, got %v", err.Context["product_code"])
		}
		if err.GetExitCode() != 7 {
			t.Errorf("expected exit code 7, got %d", err.GetExitCode())
		}
	})

	t.Run("PersistenceError", func(t *testing.T) {
		err := PersistenceError(CodeConnectionFailed, "open", errors.New("refused"))
		if err.Category != CategoryPersistence {
			t.Errorf("expected persistence category, got %s", err.Category)
		}
	})

	t.Run("ConfigurationError", func(t *testing.T) {
		err := ConfigurationError(CodeInvalidConfig, "matching.amount_tolerance", -1, nil)
		if err.Context["setting"] != "matching.amount_tolerance" {
			t.Errorf("expected setting context, got %v", err.Context["setting"])
		}
	})

	t.Run("InternalError", func(t *testing.T) {
		err := InternalError(CodeCancelled, "shift closure", nil)
		if !strings.Contains(err.Message, "cancelled") {
			t.Errorf("expected cancellation message, got %s", err.Message)
		}
	})
}

func TestErrorSummary(t *testing.T) {
	empty := NewErrorSummary(nil)
	if empty.Total != 0 || empty.Error() != "no errors" || empty.GetExitCode() != 0 {
		t.Errorf("unexpected empty summary: %+v", empty)
	}

	errs := []*ReconcilerError{
		New(CategoryValidation, CodeMissingField, "a"),
		New(CategoryConflict, CodeDuplicateShift, "b"),
		New(CategoryValidation, CodeInvalidAmount, "c"),
	}
	summary := NewErrorSummary(errs)

	if summary.Total != 3 {
		t.Errorf("expected 3 errors, got %d", summary.Total)
	}
	if !summary.HasCategory(CategoryValidation) || summary.HasCategory(CategoryInternal) {
		t.Errorf("unexpected categories: %v", summary.ByCategory)
	}
	if !summary.HasCode(CodeDuplicateShift) {
		t.Error("expected duplicate_shift code")
	}
	if summary.GetExitCode() != 6 {
		t.Errorf("expected highest exit code 6, got %d", summary.GetExitCode())
	}
	if summary.Error() != "3 errors occurred (conflict: 1, validation: 2)" {
		t.Errorf("unexpected summary message: %s", summary.Error())
	}
}

func TestAsReconcilerError(t *testing.T) {
	base := ConflictError(CodeDuplicateShift, "k", nil)
	wrapped := fmt.Errorf("closing shift: %w", base)

	got, ok := AsReconcilerError(wrapped)
	if !ok || got != base {
		t.Fatalf("expected to extract the reconciler error")
	}
	if !IsCategory(wrapped, CategoryConflict) {
		t.Error("expected conflict category through the chain")
	}
	if IsCategory(errors.New("plain"), CategoryConflict) {
		t.Error("plain error must not match a category")
	}

	plain := errors.New("disk full")
	re := WrapIfNeeded(plain, CategoryPersistence, CodeTransactionFailed, "commit")
	if re.Category != CategoryPersistence || re.Cause != plain {
		t.Errorf("expected plain error to be wrapped, got %+v", re)
	}
	if WrapIfNeeded(base, CategoryInternal, CodeUnexpectedError, "x") != base {
		t.Error("expected existing reconciler error to pass through")
	}
	if WrapIfNeeded(nil, CategoryInternal, CodeUnexpectedError, "x") != nil {
		t.Error("expected nil for nil error")
	}
}
