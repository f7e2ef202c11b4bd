package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code   Code
		status int
	}{
		{CodeValidation, http.StatusBadRequest},
		{CodeNotFound, http.StatusNotFound},
		{CodeInsufficientStock, http.StatusConflict},
		{CodeConflict, http.StatusConflict},
		{CodePaymentFailed, http.StatusPaymentRequired},
		{CodeDependency, http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		if got := MetadataFor(tc.code).HTTPStatus; got != tc.status {
			t.Fatalf("%s: expected status %d, got %d", tc.code, tc.status, got)
		}
	}
}

func TestMetadataForUnknownCodeFallsBack(t *testing.T) {
	meta := MetadataFor(Code("NOT_A_CODE"))
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal fallback, got %d", meta.HTTPStatus)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("boom")
	err := Wrap(CodeDependency, cause, "call payment provider")
	if !stdErrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be discoverable via errors.Is")
	}
	if As(err).Code() != CodeDependency {
		t.Fatalf("unexpected code: %s", As(err).Code())
	}
}

func TestAsThroughFmtWrapping(t *testing.T) {
	inner := New(CodeInsufficientStock, "2 short").WithDetails([]StockShortfall{
		{ProductID: "p1", Requested: 3, Available: 1},
	})
	outer := fmt.Errorf("reserve: %w", inner)

	typed := As(outer)
	if typed == nil {
		t.Fatal("expected typed error through fmt wrapping")
	}
	if !IsCode(outer, CodeInsufficientStock) {
		t.Fatal("IsCode should match through wrapping")
	}
	shortfalls, ok := typed.Details().([]StockShortfall)
	if !ok || len(shortfalls) != 1 || shortfalls[0].Available != 1 {
		t.Fatalf("unexpected details: %#v", typed.Details())
	}
}

func TestNilReceiverSafety(t *testing.T) {
	var err *Error
	if err.Code() != CodeInternal {
		t.Fatal("nil error should report internal code")
	}
	if err.Error() != "" || err.Message() != "" || err.Details() != nil {
		t.Fatal("nil error accessors should be zero-valued")
	}
}
