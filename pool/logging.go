package pool

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// packageLogger is shared by every Pool instance, mirroring the way the
// ecosystem's connection-pool implementations set a single package-level
// logger once (see kelub-pool's logrus.SetLevel in its init) rather than
// threading a logger handle through every call. Pools only emit through
// it when their own verbose flag is set.
var (
	packageLogger     = logrus.New()
	packageLoggerOnce sync.Once
)

// SetLogger lets an embedding application point the pool's internal
// logging at its own *logrus.Logger (shared formatter, output, hooks).
func SetLogger(l *logrus.Logger) {
	if l == nil {
		return
	}
	packageLoggerOnce.Do(func() {})
	packageLogger = l
}

func (p *Pool[T]) logf(level logrus.Level, fields logrus.Fields, format string, args ...any) {
	if !p.config.verbose {
		return
	}
	entry := packageLogger.WithFields(fields)
	switch level {
	case logrus.DebugLevel:
		entry.Debugf(format, args...)
	case logrus.WarnLevel:
		entry.Warnf(format, args...)
	case logrus.ErrorLevel:
		entry.Errorf(format, args...)
	default:
		entry.Infof(format, args...)
	}
}
