package log

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormLogger routes gorm's statement logging into a LoggerService.
type GormLogger struct {
	log           LoggerService
	level         logger.LogLevel
	slowThreshold time.Duration
}

var _ logger.Interface = (*GormLogger)(nil)

func NewGormLogger(log LoggerService, level logger.LogLevel) *GormLogger {
	if level == 0 {
		level = logger.Silent
	}
	return &GormLogger{
		log:           log,
		level:         level,
		slowThreshold: 200 * time.Millisecond,
	}
}

func (g *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	cp := *g
	cp.level = level
	return &cp
}

func (g *GormLogger) Info(_ context.Context, msg string, args ...interface{}) {
	if g.level >= logger.Info {
		g.log.Info(msg, args...)
	}
}

func (g *GormLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	if g.level >= logger.Warn {
		g.log.Warn(msg, args...)
	}
}

func (g *GormLogger) Error(_ context.Context, msg string, args ...interface{}) {
	if g.level >= logger.Error {
		g.log.Error(msg, args...)
	}
}

func (g *GormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && g.level >= logger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		g.log.Error("%s [%s, rows=%d]: %v", sql, elapsed, rows, err)
	case elapsed > g.slowThreshold && g.level >= logger.Warn:
		sql, rows := fc()
		g.log.Warn("slow query %s [%s, rows=%d]", sql, elapsed, rows)
	case g.level >= logger.Info:
		sql, rows := fc()
		g.log.Debug("%s [%s, rows=%d]", sql, elapsed, rows)
	}
}
