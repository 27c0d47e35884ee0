package keyfs

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Codec turns records into bytes and back.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// rawCodec stores *[]byte values as is.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	b, ok := v.(*[]byte)
	if !ok {
		return nil, fmt.Errorf("raw codec: unsupported type %T", v)
	}
	return *b, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("raw codec: unsupported type %T", v)
	}
	*b = data
	return nil
}

// Params fixes some placeholders of a template, by name.
type Params map[string]string

var placeholderRe = regexp.MustCompile(`\{([a-z]+)\}`)

// template is a slash-separated path with {field} placeholders.
type template struct {
	raw    string
	fields []string
}

func newTemplate(raw string) template {
	var fields []string
	for _, m := range placeholderRe.FindAllStringSubmatch(raw, -1) {
		fields = append(fields, m[1])
	}
	return template{raw: raw, fields: fields}
}

// fill substitutes values positionally. Callers pass exactly one value per
// placeholder; anything else is a programming error.
func (t template) fill(values []string) string {
	if len(values) != len(t.fields) {
		panic(fmt.Sprintf("keyfs: template %q needs %d values, got %d", t.raw, len(t.fields), len(values)))
	}
	i := 0
	return placeholderRe.ReplaceAllStringFunc(t.raw, func(string) string {
		v := values[i]
		i++
		return v
	})
}

// prefix returns the literal path up to the first placeholder not in params.
func (t template) prefix(params Params) string {
	var b strings.Builder
	rest := t.raw
	for {
		loc := placeholderRe.FindStringSubmatchIndex(rest)
		if loc == nil {
			b.WriteString(rest)
			return b.String()
		}
		b.WriteString(rest[:loc[0]])
		v, ok := params[rest[loc[2]:loc[3]]]
		if !ok {
			return b.String()
		}
		b.WriteString(v)
		rest = rest[loc[1]:]
	}
}

// matcher compiles the template into a regexp with fixed params quoted and
// the other placeholders captured as single path segments.
func (t template) matcher(params Params) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	rest := t.raw
	for {
		loc := placeholderRe.FindStringSubmatchIndex(rest)
		if loc == nil {
			b.WriteString(regexp.QuoteMeta(rest))
			break
		}
		b.WriteString(regexp.QuoteMeta(rest[:loc[0]]))
		name := rest[loc[2]:loc[3]]
		if v, ok := params[name]; ok {
			b.WriteString("(" + regexp.QuoteMeta(v) + ")")
		} else {
			b.WriteString("([^/]+)")
		}
		rest = rest[loc[1]:]
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

// Pattern is a family of record keys sharing a path template.
type Pattern[T any] struct {
	tmpl     template
	codec    Codec
	newValue func() *T
}

// NewPattern declares a JSON-encoded record family.
func NewPattern[T any](tmpl string) Pattern[T] {
	return Pattern[T]{tmpl: newTemplate(tmpl), codec: jsonCodec{}, newValue: func() *T { return new(T) }}
}

// WithNew sets the constructor for the value handed to LockedUpdate when
// the key does not exist yet (e.g. to start from a non-nil map).
func (p Pattern[T]) WithNew(fn func() *T) Pattern[T] {
	p.newValue = fn
	return p
}

// NewRawPattern declares a family of opaque byte values.
func NewRawPattern(tmpl string) Pattern[[]byte] {
	return Pattern[[]byte]{tmpl: newTemplate(tmpl), codec: rawCodec{}, newValue: func() *[]byte { return new([]byte) }}
}

// Template returns the raw path template.
func (p Pattern[T]) Template() string {
	return p.tmpl.raw
}

// Key binds the placeholders in template order.
func (p Pattern[T]) Key(kfs *KeyFS, values ...string) Key[T] {
	return Key[T]{store: kfs.store, path: p.tmpl.fill(values), pattern: p}
}

// ListNames returns the distinct, sorted values of field across all stored
// keys of this pattern that agree with params.
func (p Pattern[T]) ListNames(ctx context.Context, kfs *KeyFS, field string, params Params) ([]string, error) {
	idx := slices.Index(p.tmpl.fields, field)
	if idx < 0 {
		return nil, fmt.Errorf("keyfs: template %q has no field %q", p.tmpl.raw, field)
	}

	keys, err := kfs.store.Keys(ctx, p.tmpl.prefix(params))
	if err != nil {
		return nil, err
	}

	re := p.tmpl.matcher(params)
	seen := make(map[string]struct{})
	var names []string
	for _, k := range keys {
		m := re.FindStringSubmatch(k)
		if m == nil {
			continue
		}
		name := m[idx+1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// Key is one concrete record.
type Key[T any] struct {
	store   Store
	path    string
	pattern Pattern[T]
}

func (k Key[T]) Path() string {
	return k.path
}

// Get returns common.ErrorNotFound when the record does not exist.
func (k Key[T]) Get(ctx context.Context) (*T, error) {
	data, err := k.store.Get(ctx, k.path)
	if err != nil {
		return nil, err
	}
	v := k.pattern.newValue()
	if err := k.pattern.codec.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", k.path, err)
	}
	return v, nil
}

func (k Key[T]) Exists(ctx context.Context) (bool, error) {
	return k.store.Exists(ctx, k.path)
}

func (k Key[T]) Set(ctx context.Context, v *T) error {
	data, err := k.pattern.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", k.path, err)
	}
	return k.store.Set(ctx, k.path, data)
}

func (k Key[T]) Delete(ctx context.Context) error {
	return k.store.Delete(ctx, k.path)
}

// LockedUpdate loads the record under the key lock, hands a mutable copy to
// fn and commits it when fn returns nil. A fresh value from the pattern's
// constructor is passed when the record does not exist. Returning an error
// from fn aborts without writing; returning ErrUnchanged ends successfully
// without writing.
func (k Key[T]) LockedUpdate(ctx context.Context, fn func(v *T, exists bool) error) error {
	return k.store.Update(ctx, k.path, func(cur []byte, exists bool) ([]byte, error) {
		v := k.pattern.newValue()
		if exists {
			if err := k.pattern.codec.Unmarshal(cur, v); err != nil {
				return nil, fmt.Errorf("decode %s: %w", k.path, err)
			}
		}
		if err := fn(v, exists); err != nil {
			return nil, err
		}
		data, err := k.pattern.codec.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", k.path, err)
		}
		return data, nil
	})
}
