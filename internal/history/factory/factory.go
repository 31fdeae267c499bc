package factory

import (
	"errors"
	"net/url"
	"strings"

	"github.com/loykin/herd/internal/history"
	"github.com/loykin/herd/internal/history/clickhouse"
)

// NewSinkFromDSN creates a cluster event sink based on DSN format.
// Supported formats:
//   - "clickhouse://host:port?table=table"
func NewSinkFromDSN(dsn string) (history.Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "clickhouse://") {
		return parseClickHouseDSN(dsn)
	}
	return nil, errors.New("unsupported DSN format: " + dsn)
}

func parseClickHouseDSN(dsn string) (history.Sink, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, errors.New("clickhouse DSN missing host")
	}
	table := u.Query().Get("table")
	return clickhouse.New(u.Host, table)
}
