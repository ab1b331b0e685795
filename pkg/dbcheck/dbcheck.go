// Package dbcheck probes the application's Postgres database until it accepts
// connections.
package dbcheck

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"k8s.io/apimachinery/pkg/util/wait"

	cberrors "github.com/Azure/container-bootstrap/pkg/common/errors"
	"github.com/Azure/container-bootstrap/pkg/logger"
)

const defaultPort = 5432

// Config is read from DATABASE_URL, or from the libpq PG* variables when it is unset.
type Config struct {
	URL      string
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

// ConfigFromEnv extracts connection settings from an environment map.
func ConfigFromEnv(env map[string]string) Config {
	port, _ := strconv.Atoi(env["PGPORT"])
	return Config{
		URL:      strings.TrimSpace(env["DATABASE_URL"]),
		Host:     env["PGHOST"],
		Port:     port,
		Database: env["PGDATABASE"],
		User:     env["PGUSER"],
		Password: env["PGPASSWORD"],
		SSLMode:  env["PGSSLMODE"],
	}
}

// Configured reports whether the environment names a database at all.
func (c Config) Configured() bool {
	return c.URL != "" || c.Host != ""
}

// Postgres reports whether the settings point at PostgreSQL. PG* variables always do;
// DATABASE_URL does only with a postgres:// or postgresql:// scheme.
func (c Config) Postgres() bool {
	if c.URL == "" {
		return c.Host != ""
	}
	scheme, _, ok := strings.Cut(c.URL, "://")
	if !ok {
		return false
	}
	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		return true
	}
	return false
}

// DSN returns a postgres:// connection string.
func (c Config) DSN() (string, error) {
	if c.URL != "" {
		return c.URL, nil
	}
	if c.Host == "" {
		return "", fmt.Errorf("neither DATABASE_URL nor PGHOST is set")
	}
	user := c.User
	if user == "" {
		user = "postgres"
	}
	database := c.Database
	if database == "" {
		database = user
	}
	port := c.Port
	if port == 0 {
		port = defaultPort
	}

	hostPort := c.Host
	// Handle IPv6 or explicit host:port strings.
	if strings.HasPrefix(hostPort, "[") {
		if !strings.Contains(hostPort, "]:") {
			hostPort = fmt.Sprintf("%s:%d", hostPort, port)
		}
	} else if strings.Count(hostPort, ":") >= 2 {
		hostPort = fmt.Sprintf("[%s]:%d", hostPort, port)
	} else if !strings.Contains(hostPort, ":") {
		hostPort = fmt.Sprintf("%s:%d", hostPort, port)
	}

	u := &url.URL{Scheme: "postgres", Host: hostPort, Path: "/" + database}
	if c.Password != "" {
		u.User = url.UserPassword(user, c.Password)
	} else {
		u.User = url.User(user)
	}
	if c.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", c.SSLMode)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Prober checks a single connection attempt.
type Prober interface {
	Ping(ctx context.Context, dsn string) error
}

// PgxProber connects with pgx and pings.
type PgxProber struct {
	ConnectTimeout time.Duration
}

var _ Prober = PgxProber{}

func (p PgxProber) Ping(ctx context.Context, dsn string) error {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return cberrors.New(cberrors.CodeConfigurationInvalid, "dbcheck", "invalid connection string", err)
	}
	if p.ConnectTimeout > 0 {
		cfg.ConnectTimeout = p.ConnectTimeout
	}
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return cberrors.New(cberrors.CodeNetworkError, "dbcheck", "connect", err)
	}
	defer conn.Close(context.Background())
	return conn.Ping(ctx)
}

// Waiter polls a Prober until it succeeds.
type Waiter struct {
	Prober   Prober
	Interval time.Duration
}

// WaitReady probes immediately and then every Interval until the database answers or
// timeout elapses. Configuration errors are not retried.
func (w *Waiter) WaitReady(ctx context.Context, dsn string, timeout time.Duration) error {
	interval := w.Interval
	if interval <= 0 {
		interval = time.Second
	}

	log := logger.With("dbcheck")
	attempts := 0
	var lastErr error
	err := wait.PollUntilContextTimeout(ctx, interval, timeout, true, func(ctx context.Context) (bool, error) {
		attempts++
		err := w.Prober.Ping(ctx, dsn)
		if err == nil {
			return true, nil
		}
		if cberrors.HasCode(err, cberrors.CodeConfigurationInvalid) {
			return false, err
		}
		lastErr = err
		log.Debug().Int("attempt", attempts).Err(err).Msg("Database not ready")
		return false, nil
	})
	if err == nil {
		log.Info().Int("attempts", attempts).Msg("Database ready")
		return nil
	}
	if cberrors.HasCode(err, cberrors.CodeConfigurationInvalid) {
		return err
	}
	if lastErr == nil {
		lastErr = err
	}
	return cberrors.New(cberrors.CodeTimeoutError, "dbcheck",
		fmt.Sprintf("database not ready after %s (%d attempts)", timeout, attempts), lastErr)
}
