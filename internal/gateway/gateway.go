// Package gateway manages pooled connections to user-registered target
// databases and runs SQL against them. The catalog database is handled
// separately by internal/store.
package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"sync"

	mysqldriver "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/datapilot/datapilot/internal/config"
	"github.com/datapilot/datapilot/internal/store"
)

type Gateway struct {
	cfg    config.GatewayConfig
	logger *slog.Logger

	mu    sync.Mutex
	pools map[string]*sql.DB
}

func New(cfg config.GatewayConfig, logger *slog.Logger) *Gateway {
	return &Gateway{
		cfg:    cfg,
		logger: logger,
		pools:  map[string]*sql.DB{},
	}
}

// pool returns the cached *sql.DB for a server/database pair, opening
// it on first use. Pools are keyed per database because the target
// engines scope a connection to a single database.
func (g *Gateway) pool(ctx context.Context, server store.Server, database string) (*sql.DB, error) {
	key := server.ServerID + "/" + database

	g.mu.Lock()
	if db, ok := g.pools[key]; ok {
		g.mu.Unlock()
		return db, nil
	}
	g.mu.Unlock()

	driver, dsn, err := buildDSN(server, database)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open target db %s: %w", server.Alias, err)
	}
	db.SetMaxOpenConns(g.cfg.MaxOpenConns)
	db.SetMaxIdleConns(g.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(g.cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, g.cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping target db %s: %w", server.Alias, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.pools[key]; ok {
		_ = db.Close()
		return existing, nil
	}
	g.pools[key] = db
	g.logger.Info("opened target pool", "server", server.Alias, "db_type", string(server.DBType), "database", database)
	return db, nil
}

func buildDSN(server store.Server, database string) (driver string, dsn string, err error) {
	switch server.DBType {
	case store.DBTypePostgres:
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(server.Username, server.Password),
			Host:   net.JoinHostPort(server.Host, strconv.Itoa(server.Port)),
			Path:   "/" + database,
		}
		q := url.Values{}
		q.Set("sslmode", "prefer")
		u.RawQuery = q.Encode()
		return "pgx", u.String(), nil
	case store.DBTypeMySQL:
		cfg := mysqldriver.NewConfig()
		cfg.User = server.Username
		cfg.Passwd = server.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(server.Host, strconv.Itoa(server.Port))
		cfg.DBName = database
		cfg.ParseTime = true
		return "mysql", cfg.FormatDSN(), nil
	case store.DBTypeDuckDB:
		// DuckDB servers are local files, the database name is the path.
		path := database
		if path == "" {
			path = server.DefaultDatabase
		}
		return "duckdb", path, nil
	default:
		return "", "", fmt.Errorf("unsupported db_type %q", server.DBType)
	}
}

// TestConnection opens a pool and pings it.
func (g *Gateway) TestConnection(ctx context.Context, server store.Server, database string) error {
	_, err := g.pool(ctx, server, database)
	return err
}

func (g *Gateway) CloseAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key, db := range g.pools {
		if err := db.Close(); err != nil {
			g.logger.Warn("close target pool", "pool", key, "error", err)
		}
		delete(g.pools, key)
	}
}

// ClosePoolsForServer drops cached pools after a server registration is
// deleted so stale credentials are not reused.
func (g *Gateway) ClosePoolsForServer(serverID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	prefix := serverID + "/"
	for key, db := range g.pools {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			_ = db.Close()
			delete(g.pools, key)
		}
	}
}
