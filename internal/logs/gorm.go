package logs

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormLogger пробрасывает логи gorm в logrus.
type GormLogger struct {
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

func NewGormLogger() *GormLogger {
	lvl := gormlogger.Warn
	if Logger.IsLevelEnabled(logrus.TraceLevel) {
		lvl = gormlogger.Info
	}
	return &GormLogger{level: lvl, slowThreshold: 200 * time.Millisecond}
}

func (g *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *g
	cp.level = level
	return &cp
}

func (g *GormLogger) Info(_ context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Info {
		Logger.Infof("gorm: "+msg, args...)
	}
}

func (g *GormLogger) Warn(_ context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Warn {
		Logger.Warnf("gorm: "+msg, args...)
	}
}

func (g *GormLogger) Error(_ context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Error {
		Logger.Errorf("gorm: "+msg, args...)
	}
}

func (g *GormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	// not found — штатная ситуация, не шумим
	case err != nil && g.level >= gormlogger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		Logger.WithFields(logrus.Fields{"rows": rows, "dur": elapsed}).Errorf("gorm: %v: %s", err, sql)
	case elapsed > g.slowThreshold && g.level >= gormlogger.Warn:
		sql, rows := fc()
		Logger.WithFields(logrus.Fields{"rows": rows, "dur": elapsed}).Warnf("gorm: slow query: %s", sql)
	case g.level >= gormlogger.Info:
		sql, rows := fc()
		Logger.WithFields(logrus.Fields{"rows": rows, "dur": elapsed}).Tracef("gorm: %s", sql)
	}
}
