package logmanager

import (
	"fmt"

	"ssw-logmanager/pkg/types"

	"github.com/sirupsen/logrus"
)

// TaskLogger emite registros marcados com a task. Os handlers que recebem
// cada registro são decididos no momento da emissão pelo mapa de roteamento.
type TaskLogger struct {
	task  string
	entry *logrus.Entry
}

func newTaskLogger(engine *logrus.Logger, name, task string) *TaskLogger {
	return &TaskLogger{
		task: task,
		entry: engine.WithFields(logrus.Fields{
			NameField: name,
			TaskField: task,
		}),
	}
}

// Task nome da task
func (tl *TaskLogger) Task() string {
	return tl.task
}

// WithField retorna um logger derivado com um campo extra
func (tl *TaskLogger) WithField(key string, value interface{}) *TaskLogger {
	return &TaskLogger{task: tl.task, entry: tl.entry.WithField(key, value)}
}

// WithFields retorna um logger derivado com campos extras
func (tl *TaskLogger) WithFields(fields logrus.Fields) *TaskLogger {
	return &TaskLogger{task: tl.task, entry: tl.entry.WithFields(fields)}
}

// WithError anexa um erro ao registro
func (tl *TaskLogger) WithError(err error) *TaskLogger {
	return &TaskLogger{task: tl.task, entry: tl.entry.WithError(err)}
}

// Log emite uma mensagem no nível informado
func (tl *TaskLogger) Log(level types.Level, args ...interface{}) {
	tl.entry.WithField(levelNoField, level).Log(toLogrus(level), fmt.Sprint(args...))
}

// Logf emite uma mensagem formatada no nível informado
func (tl *TaskLogger) Logf(level types.Level, format string, args ...interface{}) {
	tl.Log(level, fmt.Sprintf(format, args...))
}

func (tl *TaskLogger) Trace(args ...interface{})    { tl.Log(types.TraceLevel, args...) }
func (tl *TaskLogger) Debug(args ...interface{})    { tl.Log(types.DebugLevel, args...) }
func (tl *TaskLogger) Info(args ...interface{})     { tl.Log(types.InfoLevel, args...) }
func (tl *TaskLogger) Success(args ...interface{})  { tl.Log(types.SuccessLevel, args...) }
func (tl *TaskLogger) Warning(args ...interface{})  { tl.Log(types.WarningLevel, args...) }
func (tl *TaskLogger) Error(args ...interface{})    { tl.Log(types.ErrorLevel, args...) }
func (tl *TaskLogger) Critical(args ...interface{}) { tl.Log(types.CriticalLevel, args...) }

func (tl *TaskLogger) Tracef(format string, args ...interface{}) {
	tl.Logf(types.TraceLevel, format, args...)
}
func (tl *TaskLogger) Debugf(format string, args ...interface{}) {
	tl.Logf(types.DebugLevel, format, args...)
}
func (tl *TaskLogger) Infof(format string, args ...interface{}) {
	tl.Logf(types.InfoLevel, format, args...)
}
func (tl *TaskLogger) Successf(format string, args ...interface{}) {
	tl.Logf(types.SuccessLevel, format, args...)
}
func (tl *TaskLogger) Warningf(format string, args ...interface{}) {
	tl.Logf(types.WarningLevel, format, args...)
}
func (tl *TaskLogger) Errorf(format string, args ...interface{}) {
	tl.Logf(types.ErrorLevel, format, args...)
}
func (tl *TaskLogger) Criticalf(format string, args ...interface{}) {
	tl.Logf(types.CriticalLevel, format, args...)
}
