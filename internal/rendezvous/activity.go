package rendezvous

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// activityLog is the append-only, human readable record of lifecycle events
// exposed by Server.Log and Connection.Log. Every line is also written to the
// structured logger.
type activityLog struct {
	mu     sync.Mutex
	buf    strings.Builder
	logger logrus.FieldLogger
}

func newActivityLog(logger logrus.FieldLogger) *activityLog {
	return &activityLog{logger: logger}
}

func (l *activityLog) infof(format string, args ...interface{}) {
	l.record(logrus.InfoLevel, format, args...)
}

func (l *activityLog) warnf(format string, args ...interface{}) {
	l.record(logrus.WarnLevel, format, args...)
}

func (l *activityLog) errorf(format string, args ...interface{}) {
	l.record(logrus.ErrorLevel, format, args...)
}

func (l *activityLog) debugf(format string, args ...interface{}) {
	l.record(logrus.DebugLevel, format, args...)
}

func (l *activityLog) record(level logrus.Level, format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)

	l.mu.Lock()
	l.buf.WriteString(line)
	l.buf.WriteByte('\n')
	l.mu.Unlock()

	switch level {
	case logrus.DebugLevel:
		l.logger.Debug(line)
	case logrus.WarnLevel:
		l.logger.Warn(line)
	case logrus.ErrorLevel:
		l.logger.Error(line)
	default:
		l.logger.Info(line)
	}
}

// reset discards everything recorded so far.
func (l *activityLog) reset() {
	l.mu.Lock()
	l.buf.Reset()
	l.mu.Unlock()
}

func (l *activityLog) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}
