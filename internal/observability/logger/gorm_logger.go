package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	obsmetrics "github.com/smallbiznis/rosterpay/internal/observability/metrics"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

const defaultSlowQuery = 200 * time.Millisecond

// StoreLogger writes gorm output through zap. Queries inherit the request,
// team and change request fields carried by the context, and failed queries
// carry the same error_type as the store error metrics.
type StoreLogger struct {
	base          *zap.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

// NewStoreLogger logs failed and slow queries. A nil base falls back to the
// global logger at call time.
func NewStoreLogger(base *zap.Logger, slowThreshold time.Duration) *StoreLogger {
	if slowThreshold <= 0 {
		slowThreshold = defaultSlowQuery
	}
	return &StoreLogger{
		base:          base,
		level:         gormlogger.Warn,
		slowThreshold: slowThreshold,
	}
}

func (l *StoreLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *StoreLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Info {
		l.logger(ctx).Info(msg, zap.Any("data", data))
	}
}

func (l *StoreLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.logger(ctx).Warn(msg, zap.Any("data", data))
	}
}

func (l *StoreLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Error {
		l.logger(ctx).Error(msg, zap.Any("data", data))
	}
}

// Trace logs one statement. Lookups that find nothing are expected (change
// requests and payments are looked up by id) and never logged as errors.
func (l *StoreLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	if errors.Is(err, gormlogger.ErrRecordNotFound) {
		err = nil
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && l.level >= gormlogger.Error:
		sql, rows := fc()
		l.logger(ctx).Error("store.query_failed", append(queryFields(sql, rows, elapsed),
			zap.String("error_type", obsmetrics.ClassifyStoreErrorReason(err)),
			zap.Bool("retryable", obsmetrics.IsStoreErrorRetryable(err)),
			zap.Error(err),
		)...)
	case elapsed > l.slowThreshold && l.level >= gormlogger.Warn:
		sql, rows := fc()
		l.logger(ctx).Warn("store.slow_query", append(queryFields(sql, rows, elapsed),
			zap.Duration("threshold", l.slowThreshold),
		)...)
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		l.logger(ctx).Debug("store.query", queryFields(sql, rows, elapsed)...)
	}
}

// ParamsFilter drops bound values; payment sources and owner ids stay out of logs.
func (l *StoreLogger) ParamsFilter(_ context.Context, sql string, _ ...interface{}) (string, []interface{}) {
	return sql, nil
}

func (l *StoreLogger) logger(ctx context.Context) *zap.Logger {
	base := l.base
	if base == nil {
		base = zap.L()
	}
	return WithContext(ctx, base).With(zap.String("component", "store"))
}

func queryFields(sql string, rows int64, elapsed time.Duration) []zap.Field {
	fields := []zap.Field{
		zap.String("operation", operationFromSQL(sql)),
		zap.String("table", tableFromSQL(sql)),
		zap.String("sql", strings.TrimSpace(sql)),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}
	return fields
}

func operationFromSQL(sql string) string {
	for _, token := range strings.Fields(strings.ToUpper(sql)) {
		token = strings.Trim(token, "();")
		switch token {
		case "SELECT", "INSERT", "UPDATE", "DELETE":
			return token
		}
	}
	return "UNKNOWN"
}

// tableFromSQL returns the first table named after FROM, INTO or UPDATE.
func tableFromSQL(sql string) string {
	tokens := strings.Fields(sql)
	for i := 0; i < len(tokens)-1; i++ {
		switch strings.ToUpper(tokens[i]) {
		case "FROM", "INTO", "UPDATE":
			table := strings.Trim(tokens[i+1], "\"`();")
			if table != "" && !strings.HasPrefix(table, "SELECT") {
				return table
			}
		}
	}
	return ""
}

var _ gormlogger.Interface = (*StoreLogger)(nil)
