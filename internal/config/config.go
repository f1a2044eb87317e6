// Package config holds the build variables and their layered sources:
// built-in defaults, an optional JSON file, then NAME=value assignments.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

var (
	// ErrUnknownVariable is returned for names outside the variable set.
	ErrUnknownVariable = errors.New("unknown variable")

	// ErrRecursiveVariable is returned when a value references itself.
	ErrRecursiveVariable = errors.New("recursive variable reference")

	// ErrInvalidFile is returned when a variable file cannot be read or
	// decoded.
	ErrInvalidFile = errors.New("invalid variable file")
)

// VariableError reports a problem with a named variable.
type VariableError struct {
	Kind   error
	Name   string
	Source string
	Msg    string
}

func (e *VariableError) Error() string {
	var sb strings.Builder
	if e.Source != "" {
		sb.WriteString(e.Source)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Kind.Error())
	sb.WriteString(" ")
	sb.WriteString(e.Name)
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	return sb.String()
}

func (e *VariableError) Unwrap() error { return e.Kind }

// Variable names.
const (
	Emoji        = "EMOJI"
	EmojiPNG128  = "EMOJI_PNG128"
	EmojiPNG64   = "EMOJI_PNG64"
	EmojiBuilder = "EMOJI_BUILDER"
	AddGlyphs    = "ADD_GLYPHS"
	PUAAdder     = "PUA_ADDER"
	Python       = "PYTHON"
	TTX          = "TTX"
	Convert      = "CONVERT"
	OptiPNG      = "OPTIPNG"
	CC           = "CC"
	PkgConfig    = "PKG_CONFIG"
	GraphicsPkg  = "GRAPHICS_PKG"
	CFlags       = "CFLAGS"
	LDFlags      = "LDFLAGS"
	WaveFlag     = "WAVEFLAG"
	Scaler       = "SCALER"
)

// Scaler values.
const (
	ScalerExternal = "external"
	ScalerBuiltin  = "builtin"
)

var defaults = map[string]string{
	Emoji:        "NotoColorEmoji",
	EmojiPNG128:  "./png/128/emoji_u",
	EmojiPNG64:   "./png/64/emoji_u",
	EmojiBuilder: "third_party/color_emoji/emoji_builder.py",
	AddGlyphs:    "third_party/color_emoji/add_glyphs.py",
	PUAAdder:     "nototools/map_pua_emoji.py",
	Python:       "python",
	TTX:          "ttx",
	Convert:      "convert",
	OptiPNG:      "optipng",
	CC:           "cc",
	PkgConfig:    "pkg-config",
	GraphicsPkg:  "cairo",
	CFlags:       "-std=c99 -Wall -Wextra `$(PKG_CONFIG) --cflags --libs $(GRAPHICS_PKG)`",
	LDFlags:      "`$(PKG_CONFIG) --libs $(GRAPHICS_PKG)`",
	WaveFlag:     "waveflag",
	Scaler:       ScalerExternal,
}

// Names returns every known variable name, sorted.
func Names() []string {
	out := make([]string, 0, len(defaults))
	for k := range defaults {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Default returns the built-in value of name.
func Default(name string) (string, bool) {
	v, ok := defaults[name]
	return v, ok
}

// Config is the set of build variables. Values are stored unexpanded;
// $(NAME) references are resolved on read.
type Config struct {
	vars   map[string]string
	origin map[string]string
}

// New returns a Config holding the built-in defaults.
func New() *Config {
	c := &Config{
		vars:   make(map[string]string, len(defaults)),
		origin: make(map[string]string, len(defaults)),
	}
	for k, v := range defaults {
		c.vars[k] = v
		c.origin[k] = "default"
	}
	return c
}

// Set assigns a raw value. source names where it came from.
func (c *Config) Set(name, value, source string) error {
	if _, ok := defaults[name]; !ok {
		return &VariableError{Kind: ErrUnknownVariable, Name: name, Source: source}
	}
	c.vars[name] = value
	c.origin[name] = source
	return nil
}

// Raw returns the unexpanded value of name.
func (c *Config) Raw(name string) (string, bool) {
	v, ok := c.vars[name]
	return v, ok
}

// Origin returns the source of the current value of name.
func (c *Config) Origin(name string) string {
	return c.origin[name]
}

// Get returns the fully expanded value of name.
func (c *Config) Get(name string) (string, error) {
	if _, ok := c.vars[name]; !ok {
		return "", &VariableError{Kind: ErrUnknownVariable, Name: name}
	}
	return c.expand("$("+name+")", nil)
}

// MustGet is Get for names known to be valid after Validate succeeded.
func (c *Config) MustGet(name string) string {
	v, err := c.Get(name)
	if err != nil {
		panic(err)
	}
	return v
}

// Expand resolves $(NAME) and ${NAME} references in s recursively.
// "$$" and any other '$' sequence are left for later stages.
func (c *Config) Expand(s string) (string, error) {
	return c.expand(s, nil)
}

// Validate expands every variable once, surfacing unknown references and
// self-reference before any rule is built.
func (c *Config) Validate() error {
	for _, name := range Names() {
		if _, err := c.Get(name); err != nil {
			return err
		}
	}
	switch v := c.MustGet(Scaler); v {
	case ScalerExternal, ScalerBuiltin:
	default:
		return &VariableError{Kind: ErrUnknownVariable, Name: Scaler, Source: c.origin[Scaler],
			Msg: fmt.Sprintf("value %q is not %q or %q", v, ScalerExternal, ScalerBuiltin)}
	}
	return nil
}

// Snapshot returns every expanded value keyed by name.
func (c *Config) Snapshot() (map[string]string, error) {
	out := make(map[string]string, len(c.vars))
	for _, name := range Names() {
		v, err := c.Get(name)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

func (c *Config) expand(s string, stack []string) (string, error) {
	if !strings.Contains(s, "$") {
		return s, nil
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '$' || i+1 == len(s) {
			sb.WriteByte(s[i])
			continue
		}
		open := s[i+1]
		if open == '$' {
			sb.WriteString("$$")
			i++
			continue
		}
		var closer byte
		switch open {
		case '(':
			closer = ')'
		case '{':
			closer = '}'
		default:
			sb.WriteByte('$')
			continue
		}
		end := strings.IndexByte(s[i+2:], closer)
		if end < 0 {
			return "", fmt.Errorf("unterminated variable reference in %q", s)
		}
		name := s[i+2 : i+2+end]
		for _, seen := range stack {
			if seen == name {
				return "", &VariableError{Kind: ErrRecursiveVariable, Name: name,
					Source: c.origin[name], Msg: strings.Join(append(stack, name), " -> ")}
			}
		}
		raw, ok := c.vars[name]
		if !ok {
			return "", &VariableError{Kind: ErrUnknownVariable, Name: name, Msg: fmt.Sprintf("referenced in %q", s)}
		}
		v, err := c.expand(raw, append(stack, name))
		if err != nil {
			return "", err
		}
		sb.WriteString(v)
		i += 2 + end
	}
	return sb.String(), nil
}

// ParseAssignment splits a NAME=value argument. ok is false when arg is
// not an assignment (for example a goal name).
func ParseAssignment(arg string) (name, value string, ok bool) {
	name, value, ok = strings.Cut(arg, "=")
	if !ok || name == "" || strings.ContainsAny(name, " \t/") {
		return "", "", false
	}
	return name, value, true
}

// LoadFile reads a JSON object of NAME -> value into c.
//
// Decoding is strict: values must be strings, names must be known and
// trailing data after the object is rejected.
func (c *Config) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}
	return c.Load(bytes.NewReader(b), path)
}

// Load decodes a JSON object from r. source names the input in errors.
func (c *Config) Load(r io.Reader, source string) error {
	var m map[string]string
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return fmt.Errorf("%w %s: %w", ErrInvalidFile, source, err)
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("%w %s: trailing data", ErrInvalidFile, source)
		}
		return fmt.Errorf("%w %s: %w", ErrInvalidFile, source, err)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := c.Set(k, m[k], source); err != nil {
			return err
		}
	}
	return nil
}
