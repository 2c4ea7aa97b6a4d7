package logger

import "github.com/rs/zerolog"

// NopLogger discards everything. Useful in tests where log output is noise.
type NopLogger struct{}

// NewNopLogger returns a logger that drops all messages
func NewNopLogger() Logger {
	return &NopLogger{}
}

func (n *NopLogger) Debug(msg string) {}
func (n *NopLogger) Info(msg string)  {}
func (n *NopLogger) Warn(msg string)  {}
func (n *NopLogger) Error(msg string) {}
func (n *NopLogger) Fatal(msg string) {}

func (n *NopLogger) WithField(key string, value interface{}) Logger          { return n }
func (n *NopLogger) WithFields(fields map[string]interface{}) Logger         { return n }
func (n *NopLogger) WithError(err error) Logger                              { return n }
func (n *NopLogger) DebugWithFields(msg string, f map[string]interface{})    {}
func (n *NopLogger) InfoWithFields(msg string, f map[string]interface{})     {}
func (n *NopLogger) WarnWithFields(msg string, f map[string]interface{})     {}
func (n *NopLogger) ErrorWithFields(msg string, f map[string]interface{})    {}

func (n *NopLogger) GetZerolog() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}
