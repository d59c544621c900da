package logger

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const (
	colorReset = "\x1b[0m"
	colorBold  = "\x1b[1m"
	colorTime  = "\x1b[38;5;245m"
	colorName  = "\x1b[38;5;108m"
	colorID    = "\x1b[38;5;109m"
	colorWarn  = "\x1b[38;5;214m"
	colorError = "\x1b[38;5;167m"
)

var bufferPool = buffer.NewPool()

// daemonEncoder is a compact console encoder.
// Format: "13:04:35  p.supervisor  ꩜ Worker launched  job=42 entry=7 pid=3121"
type daemonEncoder struct {
	zapcore.Encoder
}

func newDaemonEncoder() *daemonEncoder {
	return &daemonEncoder{
		Encoder: zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
	}
}

func (enc *daemonEncoder) Clone() zapcore.Encoder {
	return &daemonEncoder{Encoder: enc.Encoder.Clone()}
}

func (enc *daemonEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	final := bufferPool.Get()

	final.AppendString(colorTime)
	final.AppendString(ent.Time.Format("15:04:05"))
	final.AppendString(colorReset)

	if tag := levelTag(ent.Level); tag != "" {
		final.AppendString("  ")
		final.AppendString(tag)
	}

	if ent.LoggerName != "" {
		final.AppendString("  ")
		final.AppendString(colorName)
		final.AppendString(abbreviateName(ent.LoggerName))
		final.AppendString(colorReset)
	}

	final.AppendString("  ")
	if symbol := symbolField(fields); symbol != "" {
		final.AppendString(symbol)
		final.AppendString(" ")
	}
	final.AppendString(ent.Message)

	if pairs := formatFields(fields); pairs != "" {
		final.AppendString("  ")
		final.AppendString(pairs)
	}

	final.AppendString("\n")
	return final, nil
}

// levelTag is empty for INFO and DEBUG so routine cycles stay quiet.
func levelTag(l zapcore.Level) string {
	switch l {
	case zapcore.WarnLevel:
		return colorBold + colorWarn + "WARN" + colorReset
	case zapcore.ErrorLevel, zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return colorBold + colorError + l.CapitalString() + colorReset
	default:
		return ""
	}
}

// abbreviateName shortens component names: pulse.supervisor -> p.supervisor
func abbreviateName(name string) string {
	parts := strings.Split(name, ".")
	if len(parts) > 1 && parts[0] != "" {
		return string(parts[0][0]) + "." + strings.Join(parts[1:], ".")
	}
	return name
}

func symbolField(fields []zapcore.Field) string {
	for _, f := range fields {
		if f.Key == FieldSymbol && f.Type == zapcore.StringType {
			return f.String
		}
	}
	return ""
}

func fieldValue(field zapcore.Field) string {
	switch field.Type {
	case zapcore.StringType:
		return field.String
	case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type,
		zapcore.Uint64Type, zapcore.Uint32Type, zapcore.Uint16Type, zapcore.Uint8Type:
		return fmt.Sprintf("%d", field.Integer)
	case zapcore.BoolType:
		if field.Integer == 1 {
			return "true"
		}
		return "false"
	case zapcore.DurationType:
		return time.Duration(field.Integer).String()
	case zapcore.ErrorType:
		if err, ok := field.Interface.(error); ok {
			return err.Error()
		}
	}
	if field.Interface != nil {
		return fmt.Sprintf("%v", field.Interface)
	}
	return ""
}

// formatFields renders fields as key=value, IDs highlighted.
func formatFields(fields []zapcore.Field) string {
	var values []string
	for _, field := range fields {
		if field.Key == FieldSymbol {
			continue
		}
		val := fieldValue(field)
		if val == "" {
			continue
		}
		switch field.Key {
		case FieldJobID, FieldEntryID, FieldPID, FieldWorkerID:
			values = append(values, field.Key+"="+colorID+val+colorReset)
		default:
			values = append(values, field.Key+"="+val)
		}
	}
	return strings.Join(values, " ")
}
