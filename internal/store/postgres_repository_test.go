package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsLockTimeout(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "lock not available", err: &pgconn.PgError{Code: "55P03"}, want: true},
		{name: "wrapped query canceled", err: fmt.Errorf("lock: %w", &pgconn.PgError{Code: "57014"}), want: true},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := isLockTimeout(tc.err); got != tc.want {
				t.Fatalf("isLockTimeout(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestNormalizeLimit(t *testing.T) {
	cases := map[int]int{0: 50, -3: 50, 10: 10, 200: 200, 5000: 200}
	for in, want := range cases {
		if got := normalizeLimit(in); got != want {
			t.Fatalf("normalizeLimit(%d) = %d, want %d", in, got, want)
		}
	}
}
