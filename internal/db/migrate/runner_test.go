package migrate

import (
	"errors"
	"testing"
)

func TestRun_EmptyDSN(t *testing.T) {
	for _, dsn := range []string{"", "   "} {
		err := Run(dsn, Up, nil)
		if err == nil {
			t.Fatalf("Run(%q) should return error", dsn)
		}
	}
}

func TestParseDirection(t *testing.T) {
	testCases := []struct {
		in      string
		wantErr bool
	}{
		{"up", false},
		{"down", false},
		{"", true},
		{"invalid", true},
		{"UP", true},
		{"Up", true},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			d, err := ParseDirection(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseDirection(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
			}
			if err == nil && string(d) != tc.in {
				t.Errorf("ParseDirection(%q) = %q", tc.in, d)
			}
		})
	}
}

func TestRun_InvalidDirection(t *testing.T) {
	if err := Run("postgres://localhost/test", Direction("sideways"), nil); err == nil {
		t.Fatal("Run with invalid direction should return error")
	}
}

func TestRun_InvalidDSN(t *testing.T) {
	testCases := []struct {
		name string
		dsn  string
	}{
		{"invalid format", "invalid-dsn"},
		{"missing driver", "://localhost/test"},
		{"spaces", "postgres://localhost with spaces/test"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := Run(tc.dsn, Up, nil)
			if err == nil {
				t.Errorf("Run with invalid DSN %q should return error", tc.dsn)
			}
			if errors.Is(err, ErrNoChange) {
				t.Error("Run should never surface ErrNoChange")
			}
		})
	}
}

func TestVersion_InvalidDSN(t *testing.T) {
	if _, _, _, err := Version("invalid-dsn"); err == nil {
		t.Fatal("Version with invalid DSN should return error")
	}
}
