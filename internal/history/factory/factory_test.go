package factory

import (
	"testing"
)

func TestNewSinkFromDSN(t *testing.T) {
	tests := []struct {
		name        string
		dsn         string
		expectError bool
		skipTest    bool
	}{
		{"Empty DSN", "", true, false},
		{"Whitespace DSN", "   ", true, false},
		{"Unsupported scheme", "kafka://localhost:9092", true, false},
		{"ClickHouse missing host", "clickhouse://", true, false},
		{"ClickHouse DSN", "clickhouse://localhost:9000?table=cluster_events", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.skipTest {
				t.Skip("requires a reachable ClickHouse server")
			}

			sink, err := NewSinkFromDSN(tt.dsn)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error for DSN %q, got nil", tt.dsn)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error for DSN %q: %v", tt.dsn, err)
				return
			}
			if sink == nil {
				t.Errorf("expected non-nil sink for DSN %q", tt.dsn)
			}
		})
	}
}
