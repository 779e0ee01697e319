package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// quoteDSNValue quotes a value for PostgreSQL key=value DSN format so
// passwords containing spaces or quotes parse correctly.
func quoteDSNValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

// PostgresDSN returns the PostgreSQL DSN for the pgx driver.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.User,
		quoteDSNValue(c.Postgres.Password),
		c.Postgres.DBName,
		c.Postgres.SSLMode,
	)
}

// PostgresURL returns the postgres:// URL used by golang-migrate.
func (c *Config) PostgresURL() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Postgres.User, c.Postgres.Password),
		Host:     fmt.Sprintf("%s:%d", c.Postgres.Host, c.Postgres.Port),
		Path:     c.Postgres.DBName,
		RawQuery: fmt.Sprintf("sslmode=%s", c.Postgres.SSLMode),
	}
	return u.String()
}

// applyDatabaseURL lets DATABASE_URL override individual postgres_* settings,
// the common cloud-deployment convention.
func (c *Config) applyDatabaseURL() error {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil
	}

	parsed, err := url.Parse(dbURL)
	if err != nil {
		return fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return fmt.Errorf("invalid DATABASE_URL scheme %q", parsed.Scheme)
	}

	c.Postgres.Host = parsed.Hostname()
	if portStr := parsed.Port(); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid DATABASE_URL port: %w", err)
		}
		c.Postgres.Port = port
	}
	if parsed.User != nil {
		c.Postgres.User = parsed.User.Username()
		if pw, ok := parsed.User.Password(); ok {
			c.Postgres.Password = pw
		}
	}
	if name := strings.TrimPrefix(parsed.Path, "/"); name != "" {
		c.Postgres.DBName = name
	}
	if mode := parsed.Query().Get("sslmode"); mode != "" {
		c.Postgres.SSLMode = mode
	}
	return nil
}
