// Copyright 2012-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

// minilog extends Go's logging functionality to allow for multiple loggers,
// each with their own level and optional substring filters. Call AddLogger
// to register a sink, then use the package-level Debug/Info/Warn/Error/Fatal
// functions to send to every registered logger that is willing to log at
// that level.
package minilog

import (
	"errors"
	"fmt"
	golog "log"
	"io"
	"os"
	"sync"
)

var (
	loggers = make(map[string]*minilogger)
	logLock sync.RWMutex
)

// AddLogger adds a logger that only emits events at level or higher.
func AddLogger(name string, output io.Writer, level Level, color bool) {
	logLock.Lock()
	defer logLock.Unlock()

	loggers[name] = &minilogger{golog.New(output, "", golog.LstdFlags), level, color, nil}
}

// DelLogger removes a named logger previously added with AddLogger.
func DelLogger(name string) {
	logLock.Lock()
	defer logLock.Unlock()

	delete(loggers, name)
}

func Loggers() []string {
	logLock.Lock()
	defer logLock.Unlock()

	var ret []string
	for k := range loggers {
		ret = append(ret, k)
	}
	return ret
}

// WillLog reports whether logging at level would reach any registered
// logger. Callers guard expensive Debug format arguments with this.
func WillLog(level Level) bool {
	logLock.RLock()
	defer logLock.RUnlock()

	for _, v := range loggers {
		if v.Level <= level {
			return true
		}
	}
	return false
}

func SetLevel(name string, level Level) error {
	logLock.Lock()
	defer logLock.Unlock()

	if loggers[name] == nil {
		return errors.New("logger does not exist")
	}
	loggers[name].Level = level
	return nil
}

func GetLevel(name string) (Level, error) {
	logLock.Lock()
	defer logLock.Unlock()

	if loggers[name] == nil {
		return -1, errors.New("logger does not exist")
	}
	return loggers[name].Level, nil
}

func Filters(name string) ([]string, error) {
	logLock.Lock()
	defer logLock.Unlock()

	if l, ok := loggers[name]; ok {
		ret := make([]string, len(l.filters))
		copy(ret, l.filters)
		return ret, nil
	}
	return nil, fmt.Errorf("no such logger %v", name)
}

func AddFilter(name string, filter string) error {
	logLock.Lock()
	defer logLock.Unlock()

	l, ok := loggers[name]
	if !ok {
		return fmt.Errorf("no such logger %v", name)
	}
	for _, f := range l.filters {
		if f == filter {
			return nil
		}
	}
	l.filters = append(l.filters, filter)
	return nil
}

func DelFilter(name string, filter string) error {
	logLock.Lock()
	defer logLock.Unlock()

	l, ok := loggers[name]
	if !ok {
		return fmt.Errorf("no such logger %v", name)
	}
	for i, f := range l.filters {
		if f == filter {
			l.filters = append(l.filters[:i], l.filters[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("filter %v does not exist", filter)
}

func log(level Level, name, format string, arg ...interface{}) {
	logLock.RLock()
	defer logLock.RUnlock()

	for _, logger := range loggers {
		if logger.Level <= level {
			logger.log(level, name, format, arg...)
		}
	}
}

func logln(level Level, name string, arg ...interface{}) {
	logLock.RLock()
	defer logLock.RUnlock()

	for _, logger := range loggers {
		if logger.Level <= level {
			logger.logln(level, name, arg...)
		}
	}
}

func Debug(format string, arg ...interface{}) { log(DEBUG, "", format, arg...) }
func Info(format string, arg ...interface{})  { log(INFO, "", format, arg...) }
func Warn(format string, arg ...interface{})  { log(WARN, "", format, arg...) }
func Error(format string, arg ...interface{}) { log(ERROR, "", format, arg...) }

func Fatal(format string, arg ...interface{}) {
	log(FATAL, "", format, arg...)
	os.Exit(1)
}

func Debugln(arg ...interface{}) { logln(DEBUG, "", arg...) }
func Infoln(arg ...interface{})  { logln(INFO, "", arg...) }
func Warnln(arg ...interface{})  { logln(WARN, "", arg...) }
func Errorln(arg ...interface{}) { logln(ERROR, "", arg...) }

func Fatalln(arg ...interface{}) {
	logln(FATAL, "", arg...)
	os.Exit(1)
}
