/*
Package database owns the PostgreSQL connection pool used when transcripts are
kept in the database instead of on local disk.
*/
package database

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Service represents a service that interacts with a database.
type Service interface {
	// Health returns a map of health status information.
	// The keys and values in the map are service-specific.
	Health(ctx context.Context) map[string]string

	// Pool exposes the underlying pool to stores built on top of it.
	Pool() *pgxpool.Pool

	// Close terminates the database connection.
	Close()
}

type service struct {
	pool *pgxpool.Pool
	name string
}

// Params are the discrete connection settings (the BLUEPRINT_DB_* variables).
type Params struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	Schema   string
}

// ConnString builds a postgres URL from discrete settings.
func (p Params) ConnString() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.Username, p.Password),
		Host:   p.Host + ":" + p.Port,
		Path:   "/" + p.Database,
	}
	q := url.Values{}
	q.Set("sslmode", "disable")
	if p.Schema != "" {
		q.Set("search_path", p.Schema)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// New opens a pool and verifies it with a ping.
func New(ctx context.Context, connStr string) (Service, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	log.Info().Str("database", cfg.ConnConfig.Database).Msg("Connected to database")
	return &service{pool: pool, name: cfg.ConnConfig.Database}, nil
}

func (s *service) Pool() *pgxpool.Pool {
	return s.pool
}

// Health checks the health of the database connection.
func (s *service) Health(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	if err := s.pool.Ping(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		log.Warn().Err(err).Msg("db down")
		return stats
	}

	poolStats := s.pool.Stat()
	stats["status"] = "up"
	stats["total_conns"] = strconv.Itoa(int(poolStats.TotalConns()))
	stats["idle_conns"] = strconv.Itoa(int(poolStats.IdleConns()))
	stats["acquired_conns"] = strconv.Itoa(int(poolStats.AcquiredConns()))
	stats["max_conns"] = strconv.Itoa(int(poolStats.MaxConns()))
	stats["acquire_count"] = strconv.FormatInt(poolStats.AcquireCount(), 10)
	stats["acquire_duration_ms"] = strconv.FormatInt(poolStats.AcquireDuration().Milliseconds(), 10)
	stats["empty_acquire_count"] = strconv.FormatInt(poolStats.EmptyAcquireCount(), 10)

	if poolStats.AcquiredConns() > (poolStats.MaxConns() * 8 / 10) { // 80% capacity
		stats["message"] = "The database connection pool is experiencing heavy load."
	}

	return stats
}

// Close closes the database connection.
func (s *service) Close() {
	log.Info().Str("database", s.name).Msg("Disconnected from database")
	s.pool.Close()
}
