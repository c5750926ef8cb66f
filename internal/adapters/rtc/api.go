package rtc

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NewAPI builds a pion API with the default codecs and interceptors and
// pion's internal logging routed through zerolog.
func NewAPI(se webrtc.SettingEngine) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	if se.LoggerFactory == nil {
		se.LoggerFactory = loggerFactory{}
	}
	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	), nil
}

type loggerFactory struct{}

func (loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{l: log.With().Str("module", "pion").Str("scope", scope).Logger()}
}

// pionLogger maps pion debug to trace and info to debug.
type pionLogger struct{ l zerolog.Logger }

func (p pionLogger) Trace(msg string)             { p.l.Trace().Msg(msg) }
func (p pionLogger) Tracef(f string, args ...any) { p.l.Trace().Msgf(f, args...) }
func (p pionLogger) Debug(msg string)             { p.l.Trace().Msg(msg) }
func (p pionLogger) Debugf(f string, args ...any) { p.l.Trace().Msgf(f, args...) }
func (p pionLogger) Info(msg string)              { p.l.Debug().Msg(msg) }
func (p pionLogger) Infof(f string, args ...any)  { p.l.Debug().Msgf(f, args...) }
func (p pionLogger) Warn(msg string)              { p.l.Warn().Msg(msg) }
func (p pionLogger) Warnf(f string, args ...any)  { p.l.Warn().Msgf(f, args...) }
func (p pionLogger) Error(msg string)             { p.l.Error().Msg(msg) }
func (p pionLogger) Errorf(f string, args ...any) { p.l.Error().Msgf(f, args...) }
