package queue

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/hibiken/asynq"
)

// Logger adapts a charmbracelet logger to asynq.Logger.
type Logger struct {
	l *log.Logger
}

var _ asynq.Logger = Logger{}

// NewLogger wraps l.
func NewLogger(l *log.Logger) Logger {
	return Logger{l: l.With("component", "asynq")}
}

func (a Logger) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...)) }
func (a Logger) Info(args ...interface{}) { a.l.Info(fmt.Sprint(args...)) }
func (a Logger) Warn(args ...interface{}) { a.l.Warn(fmt.Sprint(args...)) }
func (a Logger) Error(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }
func (a Logger) Fatal(args ...interface{}) { a.l.Fatal(fmt.Sprint(args...)) }
