package log

import (
	"io"

	"github.com/rs/zerolog"
)

// Zerolog adapts a zerolog.Logger to this package's Logger interface,
// mirroring logiface-zerolog's role of bridging a generic logging facade
// onto a concrete zerolog backend.
type Zerolog struct {
	logger zerolog.Logger
}

// NewZerolog constructs a Zerolog logger writing to w at the given
// minimum level.
func NewZerolog(w io.Writer, level Level) Zerolog {
	return Zerolog{logger: zerolog.New(w).Level(toZerologLevel(level)).With().Timestamp().Logger()}
}

func (z Zerolog) Log(level Level, msg string, fields ...any) {
	ev := z.logger.WithLevel(toZerologLevel(level))
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, fields[i+1])
	}
	ev.Msg(msg)
}

func toZerologLevel(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
