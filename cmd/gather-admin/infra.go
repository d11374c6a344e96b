package main

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/gatherhq/gather-ui-api/internal/bootstrap"
)

var errRedisNotConfigured = errors.New("redis is not configured")

// infra bundles the connections a command needs. Nil members were not
// requested or not configured.
type infra struct {
	DB    *sql.DB
	Redis redis.UniversalClient
}

type infraOptions struct {
	WantDB    bool
	WantRedis bool
}

func connectInfra(cmdCtx *commandContext, opts infraOptions) (*infra, error) {
	out := &infra{}

	if opts.WantDB {
		db, err := bootstrap.ConnectDB(cmdCtx.Config.Postgres, cmdCtx.Logger)
		if err != nil {
			return nil, fmt.Errorf("connect db: %w", err)
		}
		out.DB = db
	}

	if opts.WantRedis {
		if !hasRedisConfig(cmdCtx) {
			closeInfra(cmdCtx, out)
			return nil, errRedisNotConfigured
		}
		client, err := bootstrap.ConnectRedis(cmdCtx.Config.Redis, cmdCtx.Logger)
		if err != nil {
			closeInfra(cmdCtx, out)
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		out.Redis = client
	}

	return out, nil
}

func hasRedisConfig(cmdCtx *commandContext) bool {
	cfg := cmdCtx.Config.Redis
	return cfg.URI != "" || cfg.UseSentinel || cfg.UseCluster
}

func closeInfra(cmdCtx *commandContext, inf *infra) {
	if inf == nil {
		return
	}
	if inf.DB != nil {
		if err := inf.DB.Close(); err != nil {
			cmdCtx.Logger.Warn("db close failed", "error", err)
		}
	}
	if inf.Redis != nil {
		if err := inf.Redis.Close(); err != nil {
			cmdCtx.Logger.Warn("redis close failed", "error", err)
		}
	}
}
