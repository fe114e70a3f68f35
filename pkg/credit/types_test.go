package credit

import (
	"errors"
	"testing"
)

func TestParseKind(test *testing.T) {
	test.Parallel()
	valid := []string{"deduction", "refund", "purchase", "admin-grant", "admin-revoke"}
	for _, raw := range valid {
		kind, err := ParseKind(raw)
		if err != nil {
			test.Fatalf("parse %q: %v", raw, err)
		}
		if kind.String() != raw {
			test.Fatalf("expected %q, got %q", raw, kind)
		}
	}

	for _, raw := range []string{"", "bonus", "ADMIN-GRANT"} {
		if _, err := ParseKind(raw); !errors.Is(err, ErrInvalidKind) {
			test.Fatalf("expected ErrInvalidKind for %q, got %v", raw, err)
		}
	}
}

func TestNewAccountIDNormalizes(test *testing.T) {
	test.Parallel()
	accountID, err := NewAccountID("  acct-9 ")
	if err != nil {
		test.Fatalf("new account id: %v", err)
	}
	if accountID != "acct-9" {
		test.Fatalf("expected trimmed id, got %q", accountID)
	}
	if _, err := NewAccountID("   "); !errors.Is(err, ErrInvalidAccountID) {
		test.Fatalf("expected ErrInvalidAccountID, got %v", err)
	}
}

func TestNewAmountRequiresPositive(test *testing.T) {
	test.Parallel()
	if _, err := NewAmount(1); err != nil {
		test.Fatalf("new amount: %v", err)
	}
	for _, raw := range []int64{0, -1} {
		if _, err := NewAmount(raw); !errors.Is(err, ErrInvalidAmount) {
			test.Fatalf("expected ErrInvalidAmount for %d, got %v", raw, err)
		}
	}
}
