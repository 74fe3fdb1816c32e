package logging

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const redacted = "[REDACTED]"

// RedactingEncoder masks fields whose key names a credential, and string
// values that look like one, before the wrapped encoder sees them.
type RedactingEncoder struct {
	zapcore.Encoder
	keys     map[string]struct{}
	patterns []*regexp.Regexp
}

// NewRedactingEncoder wraps base. With redaction disabled the wrapper
// passes everything through.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	e := &RedactingEncoder{Encoder: base}
	if !cfg.Enabled {
		return e, nil
	}
	e.keys = make(map[string]struct{}, len(cfg.Fields))
	for _, f := range cfg.Fields {
		e.keys[strings.ToLower(f)] = struct{}{}
	}
	for _, p := range cfg.Patterns {
		if len(p) > maxPatternLen {
			return nil, fmt.Errorf("redaction pattern longer than %d characters: %.40q", maxPatternLen, p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		e.patterns = append(e.patterns, re)
	}
	return e, nil
}

func (e *RedactingEncoder) sensitiveKey(key string) bool {
	_, ok := e.keys[strings.ToLower(key)]
	return ok
}

// scrub replaces each pattern match in val, keeping the surrounding text.
func (e *RedactingEncoder) scrub(val string) string {
	for _, re := range e.patterns {
		val = re.ReplaceAllString(val, redacted)
	}
	return val
}

func (e *RedactingEncoder) AddString(key, val string) {
	if e.sensitiveKey(key) {
		val = redacted
	}
	e.Encoder.AddString(key, e.scrub(val))
}

func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	if e.sensitiveKey(key) {
		e.Encoder.AddString(key, redacted)
		return
	}
	e.Encoder.AddString(key, e.scrub(string(val)))
}

func (e *RedactingEncoder) AddBinary(key string, val []byte) {
	if e.sensitiveKey(key) {
		e.Encoder.AddString(key, redacted)
		return
	}
	e.Encoder.AddBinary(key, val)
}

func (e *RedactingEncoder) AddReflected(key string, val any) error {
	if e.sensitiveKey(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *RedactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.sensitiveKey(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.sensitiveKey(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{Encoder: e.Encoder.Clone(), keys: e.keys, patterns: e.patterns}
}

// EncodeEntry scrubs the message and the per-entry fields, which the
// wrapped encoder would otherwise add to its own clone unredacted. Error
// strings from git and the GitHub client can echo a token back.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	ent.Message = e.scrub(ent.Message)
	clean := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		clean[i] = e.field(f)
	}
	return e.Encoder.EncodeEntry(ent, clean)
}

func (e *RedactingEncoder) field(f zapcore.Field) zapcore.Field {
	if f.Type == zapcore.SkipType {
		return f
	}
	if e.sensitiveKey(f.Key) {
		return zapcore.Field{Key: f.Key, Type: zapcore.StringType, String: redacted}
	}
	switch f.Type {
	case zapcore.StringType:
		f.String = e.scrub(f.String)
	case zapcore.ErrorType:
		if err, ok := f.Interface.(error); ok && err != nil {
			return zapcore.Field{Key: f.Key, Type: zapcore.StringType, String: e.scrub(err.Error())}
		}
	}
	return f
}
