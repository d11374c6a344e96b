package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gatherhq/gather-ui-api/config"
	"github.com/gatherhq/gather-ui-api/internal/migrate"
)

// Pool sizing for the profile store. Traffic is short bursts of row reads
// from the resolution poller plus occasional profile patches, so a modest
// pool keeps connection pressure off shared Postgres instances.
const (
	dbMaxOpenConns    = 25
	dbMaxIdleConns    = 5
	dbConnMaxLifetime = 5 * time.Minute
	connectTimeout    = 5 * time.Second
)

// ConnectDB opens the Postgres pool backing profiles and event attendance
// and verifies it with a ping before handing it out.
func ConnectDB(cfg config.DBConfig, logger *slog.Logger) (*sql.DB, error) {
	// url.URL handles credentials with reserved characters.
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.Name,
	}
	q := u.Query()
	q.Set("sslmode", cfg.SSLMode)
	u.RawQuery = q.Encode()

	db, err := sql.Open("pgx", u.String())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(dbMaxOpenConns)
	db.SetMaxIdleConns(dbMaxIdleConns)
	db.SetConnMaxLifetime(dbConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if pingErr := db.PingContext(ctx); pingErr != nil {
		if closeErr := db.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close database connection: %w", closeErr))
		}
		return nil, fmt.Errorf("ping database: %w", pingErr)
	}

	if logger != nil {
		logger.Info("profile store connected",
			"host", cfg.Host,
			"port", cfg.Port,
			"database", cfg.Name,
		)
	}

	return db, nil
}

// redisConn pairs a client with a loggable description of what it reached.
type redisConn struct {
	client redis.UniversalClient
	desc   string
}

// ConnectRedis opens the Redis client backing the durable intent scope.
// Mode selection follows the config flags: cluster, then sentinel, then a
// direct client from the URI.
//
//nolint:ireturn // returning redis.UniversalClient lets us pick single, sentinel, or cluster clients at runtime.
func ConnectRedis(cfg config.RedisConfig, logger *slog.Logger) (redis.UniversalClient, error) {
	var (
		conn redisConn
		err  error
	)

	switch {
	case cfg.UseCluster:
		conn, err = newClusterClient(cfg)
	case cfg.UseSentinel:
		conn, err = newSentinelClient(cfg)
	default:
		conn, err = newDirectClient(cfg)
	}
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if pingErr := conn.client.Ping(ctx).Err(); pingErr != nil {
		if closeErr := conn.client.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close redis client: %w", closeErr))
		}
		return nil, fmt.Errorf("ping redis: %w", pingErr)
	}

	if logger != nil {
		logger.Info("intent scope store connected", "addr", redactRedisAddr(conn.desc))
	}

	return conn.client, nil
}

// redactRedisAddr strips credentials from an address before it hits logs.
func redactRedisAddr(desc string) string {
	if u, err := url.Parse(desc); err == nil && u.User != nil {
		u.User = url.User("*")
		return u.Redacted()
	}
	if i := strings.LastIndex(desc, "@"); i > -1 {
		return desc[i+1:]
	}
	return desc
}

func newClusterClient(cfg config.RedisConfig) (redisConn, error) {
	addrs := trimAddrs(cfg.ClusterNodes)
	username := ""
	password := cfg.Password
	var tlsConfig *tls.Config

	// A cluster URI in place of explicit nodes seeds discovery from one address.
	if len(addrs) == 0 {
		seed, err := clusterSeedFromURI(cfg.URI, password)
		if err != nil {
			return redisConn{}, err
		}
		if seed.addr != "" {
			addrs = []string{seed.addr}
			username = seed.username
			password = seed.password
			tlsConfig = seed.tls
		}
	}

	if len(addrs) == 0 {
		return redisConn{}, errors.New("redis cluster configuration requires at least one address")
	}

	opts := &redis.ClusterOptions{
		Addrs:    addrs,
		Username: username,
		Password: password,
	}
	if tlsConfig != nil {
		opts.TLSConfig = tlsConfig
	}

	return redisConn{
		client: redis.NewClusterClient(opts),
		desc:   "cluster:" + strings.Join(addrs, ","),
	}, nil
}

func newSentinelClient(cfg config.RedisConfig) (redisConn, error) {
	if len(cfg.SentinelNodes) == 0 {
		return redisConn{}, errors.New("redis sentinel configuration requires at least one sentinel node")
	}

	client := redis.NewFailoverClient(&redis.FailoverOptions{
		MasterName:       cfg.SentinelMasterName,
		SentinelAddrs:    cfg.SentinelNodes,
		Password:         cfg.Password,
		SentinelPassword: cfg.SentinelPassword,
		DB:               cfg.DB,
	})
	return redisConn{client: client, desc: "sentinel:" + cfg.SentinelMasterName}, nil
}

func newDirectClient(cfg config.RedisConfig) (redisConn, error) {
	uri := strings.TrimSpace(cfg.URI)
	if uri == "" {
		return redisConn{}, errors.New("redis direct configuration requires a URI")
	}

	if isRedisURL(uri) {
		opt, err := redis.ParseURL(uri)
		if err != nil {
			return redisConn{}, fmt.Errorf("parse redis url: %w", err)
		}
		return redisConn{client: redis.NewClient(opt), desc: opt.Addr}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     uri,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return redisConn{client: client, desc: uri}, nil
}

func trimAddrs(raw []string) []string {
	result := make([]string, 0, len(raw))
	for _, addr := range raw {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// clusterSeed is the connection material recovered from a cluster URI.
type clusterSeed struct {
	addr     string
	username string
	password string
	tls      *tls.Config
}

func clusterSeedFromURI(uri, defaultPassword string) (clusterSeed, error) {
	trimmed := strings.TrimSpace(uri)
	if trimmed == "" {
		return clusterSeed{password: defaultPassword}, nil
	}
	if !isRedisURL(trimmed) {
		return clusterSeed{addr: trimmed, password: defaultPassword}, nil
	}

	opt, err := redis.ParseURL(trimmed)
	if err != nil {
		return clusterSeed{}, fmt.Errorf("parse redis cluster url: %w", err)
	}

	password := defaultPassword
	if opt.Password != "" {
		password = opt.Password
	}
	return clusterSeed{
		addr:     opt.Addr,
		username: opt.Username,
		password: password,
		tls:      opt.TLSConfig,
	}, nil
}

func isRedisURL(value string) bool {
	return strings.HasPrefix(value, "redis://") || strings.HasPrefix(value, "rediss://")
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if err := migrate.Run(ctx, db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	if logger != nil {
		logger.InfoContext(ctx, "database migrations completed")
	}

	return nil
}
