package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"regexp"
	"strings"

	chstore "syndicate-ledger/internal/storage/clickhouse"
)

const clickhouseVersionTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    String,
		applied_at DateTime64(3, 'UTC') DEFAULT now64(3)
	) ENGINE = ReplacingMergeTree
	ORDER BY version
`

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// RunClickhouseMigrations creates the analytics database named by the DSN,
// then applies embedded SQL files not yet recorded in its schema_migrations
// table. ClickHouse has no DDL transactions, so a file that fails half way
// is not recorded and is re-run in full next time; migration statements
// must therefore be idempotent. Returns a connection to the analytics
// database and the files applied by this call.
func RunClickhouseMigrations(ctx context.Context, dsn string) (_ *chstore.Conn, applied []string, err error) {
	dbName, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := ensureDatabase(ctx, dsn, dbName); err != nil {
		return nil, nil, err
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, dbName)
	if err != nil {
		return nil, nil, fmt.Errorf("connect clickhouse %s: %w", dbName, err)
	}
	defer func() {
		if err != nil {
			conn.Close()
		}
	}()

	if err := conn.Exec(ctx, clickhouseVersionTable); err != nil {
		return nil, nil, fmt.Errorf("create schema_migrations: %w", err)
	}
	done, err := appliedVersions(ctx, conn)
	if err != nil {
		return nil, nil, err
	}

	files, err := sqlFiles(ClickhouseFS, "clickhouse")
	if err != nil {
		return nil, nil, fmt.Errorf("read embedded clickhouse migrations: %w", err)
	}
	for _, file := range files {
		if done[file] {
			continue
		}
		data, err := fs.ReadFile(ClickhouseFS, "clickhouse/"+file)
		if err != nil {
			return nil, applied, fmt.Errorf("read migration %s: %w", file, err)
		}
		for i, stmt := range statements(string(data)) {
			if err := conn.Exec(ctx, stmt); err != nil {
				return nil, applied, fmt.Errorf("apply migration %s statement %d: %w", file, i+1, err)
			}
		}
		if err := conn.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, file); err != nil {
			return nil, applied, fmt.Errorf("record migration %s: %w", file, err)
		}
		applied = append(applied, file)
	}
	return conn, applied, nil
}

func ensureDatabase(ctx context.Context, dsn, dbName string) error {
	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return fmt.Errorf("connect clickhouse server: %w", err)
	}
	defer admin.Close()

	if err := admin.Exec(ctx, "CREATE DATABASE IF NOT EXISTS `"+dbName+"`"); err != nil {
		return fmt.Errorf("create database %s: %w", dbName, err)
	}
	return nil
}

func appliedVersions(ctx context.Context, conn *chstore.Conn) (map[string]bool, error) {
	rows, err := conn.Query(ctx, `SELECT DISTINCT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		done[v] = true
	}
	return done, rows.Err()
}

// statements splits a migration file into single statements, since the
// ClickHouse driver executes one statement per Exec. Semicolons inside
// quoted strings or identifiers and inside -- comments do not split.
func statements(sql string) []string {
	var (
		out   []string
		cur   strings.Builder
		quote byte
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case quote != 0:
			cur.WriteByte(c)
			if c == '\\' && i+1 < len(sql) {
				i++
				cur.WriteByte(sql[i])
			} else if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
			cur.WriteByte(c)
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
			cur.WriteByte('\n')
		case c == ';':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return out
}

// databaseFromDSN returns the database named in the DSN path. The name is
// interpolated into CREATE DATABASE, so only plain identifiers are allowed.
func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := strings.Trim(u.Path, "/")
	if !identPattern.MatchString(db) {
		return "", fmt.Errorf("clickhouse dsn must name a database, got %q", db)
	}
	return db, nil
}
