package db

import (
	"context"
	"testing"
)

const poolTestPrefix = "db:pool_test"

func TestNewPool_InvalidURL(t *testing.T) {
	for _, u := range []string{"invalid://not-a-valid-database-url", ""} {
		pool, err := NewPool(context.Background(), u)
		if err == nil {
			if pool != nil {
				pool.Close()
			}
			t.Fatalf("%s - expected error for %q", poolTestPrefix, u)
		}
		if pool != nil {
			t.Errorf("%s - expected nil pool on error", poolTestPrefix)
		}
	}
}

func TestClassificationCounts_Total(t *testing.T) {
	c := ClassificationCounts{Wallets: 3, Processes: 4}
	if c.Total() != 7 {
		t.Errorf("%s - Total = %d, want 7", poolTestPrefix, c.Total())
	}
}
