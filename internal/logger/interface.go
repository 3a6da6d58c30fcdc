package logger

import "monsoon/internal/errors"

// Logger defines the interface for logging operations.
type Logger interface {
	Debug() *LogEvent
	Info() *LogEvent
	Warn() *LogEvent
	Error() *LogEvent
	ErrorWithCode(err errors.Error) *LogEvent
}

// Component returns a Logger whose events carry component=name.
func Component(name string) Logger {
	return &componentLogger{name: name}
}

type componentLogger struct {
	name string
}

func (c *componentLogger) Debug() *LogEvent { return Debug().withComponent(c.name) }
func (c *componentLogger) Info() *LogEvent  { return Info().withComponent(c.name) }
func (c *componentLogger) Warn() *LogEvent  { return Warn().withComponent(c.name) }
func (c *componentLogger) Error() *LogEvent { return Error().withComponent(c.name) }

func (c *componentLogger) ErrorWithCode(err errors.Error) *LogEvent {
	return ErrorWithCode(err).withComponent(c.name)
}
