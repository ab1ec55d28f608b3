package clickhouse

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/loykin/botvisor/internal/history"
)

// DefaultTable receives the events when the DSN names none.
const DefaultTable = "bot_history"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// Sink sends events to ClickHouse using the official ClickHouse Go client.
type Sink struct {
	conn  driver.Conn
	table string
}

// New connects with a clickhouse:// DSN as accepted by clickhouse-go. The
// extra "table" query parameter selects the target table, created when
// missing.
func New(ctx context.Context, dsn string) (*Sink, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse ClickHouse DSN: %w", err)
	}
	q := u.Query()
	table := q.Get("table")
	if table == "" {
		table = DefaultTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid ClickHouse table name %q", table)
	}
	q.Del("table")
	u.RawQuery = q.Encode()

	opts, err := clickhouse.ParseDSN(u.String())
	if err != nil {
		return nil, fmt.Errorf("parse ClickHouse DSN: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	s := &Sink{conn: conn, table: table}
	if err := s.ensureTable(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureTable(ctx context.Context) error {
	err := s.conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+s.table+` (
		occurred_at DateTime64(3),
		event LowCardinality(String),
		bot String,
		category LowCardinality(String),
		run_id String,
		pid UInt32,
		started_at DateTime64(3),
		exit_code Nullable(Int32),
		signal Nullable(String),
		outcome Nullable(String),
		duration_ms Nullable(Int64)
	) ENGINE = MergeTree()
	ORDER BY (bot, occurred_at)`)
	if err != nil {
		return fmt.Errorf("create ClickHouse table %s: %w", s.table, err)
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	err := s.conn.Exec(ctx,
		`INSERT INTO `+s.table+` (`+history.Columns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SQLArgs()...)
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
