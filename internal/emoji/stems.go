// Package emoji declares the color emoji font build: the glyph stems found
// on disk, the rule table over them, and the native helpers (PNG scaling and
// font inspection) that some rules can use instead of external tools.
package emoji

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/runenames"

	"emojimk/internal/core"
)

// ErrInvalidStem is returned for glyph image names that do not encode a
// code point sequence.
var ErrInvalidStem = errors.New("invalid glyph stem")

// InvalidStemError names the offending image.
type InvalidStemError struct {
	Path string
	Msg  string
}

func (e *InvalidStemError) Error() string {
	return fmt.Sprintf("%s %q: %s", ErrInvalidStem, e.Path, e.Msg)
}

func (e *InvalidStemError) Unwrap() error { return ErrInvalidStem }

// Stem is one glyph image, identified by the code points in its file name.
// "emoji_u1F1EF_1F1F5.png" has the stem "1F1EF_1F1F5".
type Stem struct {
	// Name is the stem exactly as spelled in the file name.
	Name  string
	Runes []rune
}

// Path returns the image path for prefix, e.g. "png/64/emoji_u" + Name + ".png".
func (s Stem) Path(prefix string) string {
	return core.CleanPath(prefix + s.Name + ".png")
}

// GlyphName is the glyph name the font tools assign to the sequence.
func (s Stem) GlyphName() string { return GlyphName(s.Runes) }

// Describe renders the sequence as "U+1F600 GRINNING FACE", joining the
// parts of longer sequences with " + ".
func (s Stem) Describe() string {
	parts := make([]string, len(s.Runes))
	for i, r := range s.Runes {
		name := runenames.Name(r)
		if name == "" {
			parts[i] = fmt.Sprintf("U+%04X", r)
			continue
		}
		parts[i] = fmt.Sprintf("U+%04X %s", r, name)
	}
	return strings.Join(parts, " + ")
}

// ParseStem decodes an underscore separated list of hex code points.
func ParseStem(name string) (Stem, error) {
	if name == "" {
		return Stem{}, fmt.Errorf("empty stem")
	}
	pieces := strings.Split(name, "_")
	runes := make([]rune, 0, len(pieces))
	for _, p := range pieces {
		if p == "" || len(p) > 6 {
			return Stem{}, fmt.Errorf("bad code point %q", p)
		}
		v, err := strconv.ParseUint(p, 16, 32)
		if err != nil {
			return Stem{}, fmt.Errorf("bad code point %q", p)
		}
		r := rune(v)
		if !utf8.ValidRune(r) {
			return Stem{}, fmt.Errorf("code point %q out of range", p)
		}
		runes = append(runes, r)
	}
	return Stem{Name: name, Runes: runes}, nil
}

// EnumerateStems lists the glyph images matching prefix*.png.
//
// Stems are returned sorted by sequence length, then code points, which is
// the order glyphs are added to the font. Two file names spelling the same
// sequence ("1f600" and "1F600") are rejected.
func EnumerateStems(resolver *core.InputResolver, prefix string) ([]Stem, error) {
	if resolver == nil {
		return nil, fmt.Errorf("nil resolver")
	}
	clean := core.CleanPath(prefix)
	if strings.HasSuffix(prefix, "/") {
		clean += "/"
	}
	paths, err := resolver.Resolve([]string{clean + "*.png"})
	if err != nil {
		return nil, fmt.Errorf("enumerate glyph images: %w", err)
	}

	stems := make([]Stem, 0, len(paths))
	byGlyph := make(map[string]string, len(paths))
	for _, p := range paths {
		name := strings.TrimSuffix(strings.TrimPrefix(p, clean), ".png")
		s, err := ParseStem(name)
		if err != nil {
			return nil, &InvalidStemError{Path: p, Msg: err.Error()}
		}
		g := s.GlyphName()
		if prev, dup := byGlyph[g]; dup {
			return nil, &InvalidStemError{Path: p, Msg: fmt.Sprintf("same sequence as %q", prev)}
		}
		byGlyph[g] = p
		stems = append(stems, s)
	}
	SortStems(stems)
	return stems, nil
}

// SortStems orders stems by sequence length, then by code points.
func SortStems(stems []Stem) {
	sort.SliceStable(stems, func(i, j int) bool {
		a, b := stems[i].Runes, stems[j].Runes
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
}

// GlyphName returns the name used for a code point sequence, such as
// "u1F600" or "u1F468_u200D_u1F469".
func GlyphName(runes []rune) string {
	parts := make([]string, len(runes))
	for i, r := range runes {
		parts[i] = fmt.Sprintf("u%04X", r)
	}
	return strings.Join(parts, "_")
}

const regionalIndicatorA = 0x1F1E6

// Region returns the two letter region code of a flag stem, a pair of
// regional indicators: "1F1EF_1F1F5" gives "JP".
func (s Stem) Region() (string, bool) {
	if len(s.Runes) != 2 {
		return "", false
	}
	var code [2]byte
	for i, r := range s.Runes {
		if r < regionalIndicatorA || r > regionalIndicatorA+25 {
			return "", false
		}
		code[i] = byte('A' + r - regionalIndicatorA)
	}
	return string(code[:]), true
}

// FlagGlyphName returns the glyph name of the flag for a two letter region
// code: "JP" gives "u1f1ef_1f1f5".
func FlagGlyphName(code string) (string, error) {
	if len(code) != 2 {
		return "", fmt.Errorf("region code %q is not two letters", code)
	}
	var ri [2]rune
	for i := 0; i < 2; i++ {
		c := code[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		if c < 'A' || c > 'Z' {
			return "", fmt.Errorf("region code %q is not two letters", code)
		}
		ri[i] = regionalIndicatorA + rune(c-'A')
	}
	return fmt.Sprintf("u%04x_%04x", ri[0], ri[1]), nil
}
