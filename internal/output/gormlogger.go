package output

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/simplesurance/prsync/internal/logfields"
)

const slowQueryThreshold = 200 * time.Millisecond

// gormLogger forwards gorm log messages to a zap logger.
type gormLogger struct {
	logger *zap.Logger
	level  logger.LogLevel
}

func newGormLogger(l *zap.Logger) *gormLogger {
	return &gormLogger{logger: l, level: logger.Warn}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	return &gormLogger{logger: l.logger, level: level}
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...any) {
	if l.level >= logger.Info {
		l.logger.Info(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...any) {
	if l.level >= logger.Warn {
		l.logger.Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...any) {
	if l.level >= logger.Error {
		l.logger.Error(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := []zap.Field{
		zap.Duration("duration", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= logger.Error:
		l.logger.Error("sql query failed", append(fields, logfields.Event("sql_query_failed"), zap.Error(err))...)

	case elapsed > slowQueryThreshold && l.level >= logger.Warn:
		l.logger.Warn("slow sql query", append(fields, logfields.Event("sql_query_slow"))...)

	case l.level >= logger.Info:
		l.logger.Debug("sql query", fields...)
	}
}
