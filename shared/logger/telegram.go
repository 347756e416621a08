package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Forwarder delivers a preformatted Markdown line to an operator channel.
type Forwarder interface {
	Forward(text string)
}

func (l *Logger) forward(prefix, msg string, keysAndValues []interface{}) {
	if l.forwarder == nil {
		return
	}
	l.forwarder.Forward(fmt.Sprintf("%s %s%s", prefix, msg, formatKeyValues(keysAndValues...)))
}

// formatKeyValues renders sugar-style pairs and zap.Fields as " | k=`v`".
// Values are left raw; the forwarder is responsible for escaping.
func formatKeyValues(keysAndValues ...interface{}) string {
	if len(keysAndValues) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(" |")
	for i := 0; i < len(keysAndValues); i++ {
		if field, ok := keysAndValues[i].(zap.Field); ok {
			sb.WriteString(fmt.Sprintf(" %s=`%s`", field.Key, fieldValue(field)))
			continue
		}
		key := fmt.Sprintf("%v", keysAndValues[i])
		val := "INVALID_ARGS"
		if i+1 < len(keysAndValues) {
			i++
			if err, ok := keysAndValues[i].(error); ok {
				val = err.Error()
			} else {
				val = fmt.Sprintf("%v", keysAndValues[i])
			}
		}
		sb.WriteString(fmt.Sprintf(" %s=`%s`", key, val))
	}
	return sb.String()
}

func fieldValue(f zap.Field) string {
	enc := zapcore.NewMapObjectEncoder()
	f.AddTo(enc)
	if v, ok := enc.Fields[f.Key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}
