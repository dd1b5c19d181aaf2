package whatsapp

import (
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// slogAdapter bridges whatsmeow's printf-style logger into slog.
type slogAdapter struct {
	log *slog.Logger
}

var _ waLog.Logger = slogAdapter{}

func newLogger(base *slog.Logger, module string) waLog.Logger {
	return slogAdapter{log: base.With("module", module)}
}

func (a slogAdapter) Errorf(msg string, args ...interface{}) {
	a.log.Error(fmt.Sprintf(msg, args...))
}

func (a slogAdapter) Warnf(msg string, args ...interface{}) {
	a.log.Warn(fmt.Sprintf(msg, args...))
}

func (a slogAdapter) Infof(msg string, args ...interface{}) {
	a.log.Info(fmt.Sprintf(msg, args...))
}

func (a slogAdapter) Debugf(msg string, args ...interface{}) {
	a.log.Debug(fmt.Sprintf(msg, args...))
}

func (a slogAdapter) Sub(module string) waLog.Logger {
	return slogAdapter{log: a.log.With("submodule", module)}
}
