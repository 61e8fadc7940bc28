package logmanager

import (
	"bytes"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"ssw-logmanager/pkg/types"

	"github.com/sirupsen/logrus"
)

// Campos internos gravados pelo TaskLogger em cada registro
const (
	TaskField    = "task"
	NameField    = "name"
	levelNoField = "_level_no"
)

// Formatos embutidos aceitos em "format"
const (
	FormatJSON = "json"
	FormatText = "text"
)

// DefaultFormat template usado quando o handler não define format
const DefaultFormat = "{time:YYYY-MM-DD HH:mm:ss.SSS} | {level: <8} | {name} | {task} | {message}"

// ResolveFormat returns the format a handler uses: the named entry from
// formats when it exists, otherwise the value itself. found reports whether
// a named format was used.
func ResolveFormat(format string, formats map[string]string) (resolved string, found bool) {
	if format == "" {
		return DefaultFormat, false
	}
	if named, ok := formats[format]; ok {
		return named, true
	}
	return format, false
}

// NewFormatter cria o formatter para um format já resolvido
func NewFormatter(format string) (logrus.Formatter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatJSON:
		return &fieldsFormatter{inner: &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano}}, nil
	case FormatText:
		return &fieldsFormatter{inner: &logrus.TextFormatter{
			FullTimestamp:   true,
			DisableColors:   true,
			TimestampFormat: time.RFC3339Nano,
		}}, nil
	}
	return NewTemplateFormatter(format)
}

// fieldsFormatter troca o campo interno de nível por "severity" antes de
// delegar aos formatters do logrus
type fieldsFormatter struct {
	inner logrus.Formatter
}

func (f *fieldsFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	data := make(logrus.Fields, len(entry.Data))
	for k, v := range entry.Data {
		if k != levelNoField {
			data[k] = v
		}
	}
	data["severity"] = LevelOf(entry).String()

	clean := entry.Dup()
	clean.Data = data
	clean.Level = entry.Level
	clean.Message = entry.Message
	clean.Caller = entry.Caller
	return f.inner.Format(clean)
}

// TemplateFormatter renders records from a brace template such as
// "{time:YYYY-MM-DD HH:mm:ss} | {level: <8} | {task} | {message}".
// Color markup like <green>...</green> is removed.
type TemplateFormatter struct {
	segments []segment
}

type segment struct {
	literal string
	field   string
	arg     string // layout de tempo, chave de extra ou especificação de alinhamento
}

var (
	placeholderRe = regexp.MustCompile(`\{([a-z_]+)(?:\[([^\]]+)\])?(?::([^}]*))?\}`)
	colorTagRe    = regexp.MustCompile(`</?(?:green|red|yellow|blue|cyan|magenta|white|black|level|bold|b|i|u|dim|normal|light-[a-z]+|[a-z]+-bg)>`)
)

var knownFields = map[string]bool{
	"time": true, "level": true, "message": true, "task": true, "name": true,
	"extra": true, "file": true, "function": true, "line": true,
}

// NewTemplateFormatter compila o template
func NewTemplateFormatter(template string) (*TemplateFormatter, error) {
	template = colorTagRe.ReplaceAllString(template, "")

	tf := &TemplateFormatter{}
	last := 0
	for _, m := range placeholderRe.FindAllStringSubmatchIndex(template, -1) {
		field := template[m[2]:m[3]]
		if !knownFields[field] {
			return nil, fmt.Errorf("unknown placeholder {%s} in format", field)
		}
		if m[0] > last {
			tf.segments = append(tf.segments, segment{literal: template[last:m[0]]})
		}

		seg := segment{field: field}
		switch {
		case m[4] >= 0:
			seg.arg = template[m[4]:m[5]]
		case m[6] >= 0:
			seg.arg = template[m[6]:m[7]]
		}
		if field == "extra" && seg.arg == "" {
			return nil, fmt.Errorf("placeholder {extra} requires a key, as in {extra[key]}")
		}
		if field == "time" {
			seg.arg = convertTimeLayout(seg.arg)
		}
		tf.segments = append(tf.segments, seg)
		last = m[1]
	}
	if last < len(template) {
		tf.segments = append(tf.segments, segment{literal: template[last:]})
	}
	return tf, nil
}

// Format implementa logrus.Formatter
func (tf *TemplateFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	for _, seg := range tf.segments {
		if seg.field == "" {
			b.WriteString(seg.literal)
			continue
		}
		b.WriteString(tf.value(entry, seg))
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func (tf *TemplateFormatter) value(entry *logrus.Entry, seg segment) string {
	switch seg.field {
	case "time":
		return entry.Time.Format(seg.arg)
	case "level":
		return align(LevelOf(entry).String(), seg.arg)
	case "message":
		return entry.Message
	case "task", "name":
		return align(fmt.Sprint(entry.Data[seg.field]), seg.arg)
	case "extra":
		if v, ok := entry.Data[seg.arg]; ok {
			return fmt.Sprint(v)
		}
		return ""
	case "file":
		if entry.Caller != nil {
			return align(filepath.Base(entry.Caller.File), seg.arg)
		}
	case "function":
		if entry.Caller != nil {
			return entry.Caller.Function
		}
	case "line":
		if entry.Caller != nil {
			return strconv.Itoa(entry.Caller.Line)
		}
	}
	return ""
}

// align aplica especificações do tipo " <8", ">8" ou "^8"
func align(s, spec string) string {
	spec = strings.TrimSpace(spec)
	if len(spec) < 2 {
		return s
	}
	width, err := strconv.Atoi(spec[1:])
	if err != nil || len(s) >= width {
		return s
	}
	pad := width - len(s)
	switch spec[0] {
	case '<':
		return s + strings.Repeat(" ", pad)
	case '>':
		return strings.Repeat(" ", pad) + s
	case '^':
		left := pad / 2
		return strings.Repeat(" ", left) + s + strings.Repeat(" ", pad-left)
	}
	return s
}

var layoutReplacer = strings.NewReplacer(
	"YYYY", "2006",
	"YY", "06",
	"MM", "01",
	"DD", "02",
	"HH", "15",
	"mm", "04",
	"ss", "05",
	"SSS", "000",
	"ZZ", "-0700",
	"Z", "-07:00",
)

// convertTimeLayout converte tokens de data no estilo YYYY-MM-DD para o layout Go
func convertTimeLayout(layout string) string {
	if layout == "" {
		return "2006-01-02 15:04:05.000"
	}
	return layoutReplacer.Replace(layout)
}

// LevelOf devolve o nível do registro; registros sem o campo interno usam o
// nível do logrus.
func LevelOf(entry *logrus.Entry) types.Level {
	if v, ok := entry.Data[levelNoField].(types.Level); ok {
		return v
	}
	return fromLogrus(entry.Level)
}

func toLogrus(level types.Level) logrus.Level {
	switch {
	case level >= types.CriticalLevel:
		return logrus.FatalLevel
	case level >= types.ErrorLevel:
		return logrus.ErrorLevel
	case level >= types.WarningLevel:
		return logrus.WarnLevel
	case level >= types.InfoLevel:
		return logrus.InfoLevel
	case level >= types.DebugLevel:
		return logrus.DebugLevel
	default:
		return logrus.TraceLevel
	}
}

func fromLogrus(level logrus.Level) types.Level {
	switch level {
	case logrus.PanicLevel, logrus.FatalLevel:
		return types.CriticalLevel
	case logrus.ErrorLevel:
		return types.ErrorLevel
	case logrus.WarnLevel:
		return types.WarningLevel
	case logrus.InfoLevel:
		return types.InfoLevel
	case logrus.DebugLevel:
		return types.DebugLevel
	default:
		return types.TraceLevel
	}
}
