package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/niciki/system-design/internal/pkg/retry"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jackc/pgx/v5/tracelog"
	"go.uber.org/zap"
)

type Options struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	TraceSQL        bool
}

// NewDB opens a bounded database/sql pool over the pgx driver and waits for
// the server to answer a ping, retrying with the given policy.
func NewDB(ctx context.Context, opts Options, policy retry.Policy, logger *zap.Logger) (*sql.DB, error) {
	cfg, err := pgx.ParseConfig(opts.DSN)
	if err != nil {
		logger.Error("Failed to parse DB config", zap.Error(err))
		return nil, fmt.Errorf("failed to parse dsn: %w", err)
	}
	if opts.TraceSQL {
		cfg.Tracer = &tracelog.TraceLog{
			Logger:   NewZapTracer(logger),
			LogLevel: tracelog.LogLevelDebug,
		}
	}

	db := stdlib.OpenDB(*cfg)
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	err = retry.Do(ctx, policy, func(attempt int) error {
		err := db.PingContext(ctx)
		if err != nil {
			logger.Warn("Failed to ping DB, retrying...", zap.Error(err), zap.Int("attempt", attempt))
		}
		return err
	})
	if err != nil {
		logger.Error("Failed to ping DB", zap.Error(err))
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	logger.Info("DB is ready", zap.Int("max_open_conns", opts.MaxOpenConns))
	return db, nil
}

type zapTracer struct {
	logger *zap.Logger
}

// NewZapTracer routes pgx query tracing to zap.
func NewZapTracer(logger *zap.Logger) tracelog.Logger {
	return &zapTracer{logger: logger.Named("pgx")}
}

func (t *zapTracer) Log(_ context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
	fields := []zap.Field{
		zap.Any("sql", data["sql"]),
		zap.Any("args", data["args"]),
		zap.Any("time", data["time"]),
	}
	if level == tracelog.LogLevelError {
		fields = append(fields, zap.Any("err", data["err"]))
	}

	switch level {
	case tracelog.LogLevelTrace, tracelog.LogLevelDebug:
		t.logger.Debug(msg, fields...)
	case tracelog.LogLevelInfo:
		t.logger.Info(msg, fields...)
	case tracelog.LogLevelWarn:
		t.logger.Warn(msg, fields...)
	case tracelog.LogLevelError:
		t.logger.Error(msg, fields...)
	}
}
