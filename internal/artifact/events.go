package artifact

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/qrv0/tensorstore/internal/store"
)

type EventKind int

const (
	ConfigWritten EventKind = iota
	ConfigSkipped
	TensorsWritten
	TensorsSkipped
	ConfigFallback
	DTypeCast
	LoadCompleted
)

var eventNames = [...]string{
	ConfigWritten:  "config_written",
	ConfigSkipped:  "config_skipped",
	TensorsWritten: "tensors_written",
	TensorsSkipped: "tensors_skipped",
	ConfigFallback: "config_fallback",
	DTypeCast:      "dtype_cast",
	LoadCompleted:  "load_completed",
}

func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventNames) {
		return eventNames[k]
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is emitted by the Orchestrator as it progresses. Only the fields
// relevant to Kind are set.
type Event struct {
	Kind    EventKind
	Path    string
	Reason  string
	Bytes   int64
	Elapsed time.Duration
	// Rate is bytes per second.
	Rate    float64
	Missing []string
	Cast    *store.DTypeMismatchError
	Err     error
}

// Sink receives orchestrator events. Emit is called synchronously from the
// save or load call.
type Sink interface {
	Emit(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

type zapSink struct {
	log *zap.Logger
}

// NewZapSink logs events as structured lines.
func NewZapSink(log *zap.Logger) Sink {
	return zapSink{log: log}
}

func (s zapSink) Emit(e Event) {
	fields := []zap.Field{zap.String("event", e.Kind.String())}
	if e.Path != "" {
		fields = append(fields, zap.String("path", e.Path))
	}
	switch e.Kind {
	case ConfigSkipped, TensorsSkipped:
		fields = append(fields, zap.String("reason", e.Reason))
		s.log.Info("artifact skipped", fields...)
	case ConfigWritten, TensorsWritten:
		fields = append(fields,
			zap.Int64("bytes", e.Bytes),
			zap.String("size", HumanBytes(e.Bytes)),
			zap.Duration("elapsed", e.Elapsed))
		s.log.Info("artifact written", fields...)
	case ConfigFallback:
		s.log.Warn("structured config load failed, using raw JSON", append(fields, zap.Error(e.Err))...)
	case DTypeCast:
		s.log.Debug("dtype cast",
			append(fields,
				zap.String("tensor", e.Cast.Name),
				zap.Stringer("stored", e.Cast.Stored),
				zap.Stringer("requested", e.Cast.Requested))...)
	case LoadCompleted:
		fields = append(fields,
			zap.Int64("bytes", e.Bytes),
			zap.Duration("elapsed", e.Elapsed),
			zap.String("rate", HumanRate(e.Rate)))
		if len(e.Missing) > 0 {
			fields = append(fields, zap.Strings("missing", e.Missing))
		}
		s.log.Info("load completed", fields...)
	default:
		s.log.Info("artifact event", fields...)
	}
}

// HumanBytes formats n with binary units, e.g. "1.5 GiB".
func HumanBytes(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}

// HumanRate formats bytes per second.
func HumanRate(bps float64) string {
	if bps <= 0 {
		return "0 B/s"
	}
	return humanize.IBytes(uint64(bps)) + "/s"
}

func rate(n int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}
