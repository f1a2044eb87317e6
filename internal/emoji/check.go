package emoji

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/go-text/typesetting/font"
	"github.com/go-text/typesetting/font/opentype"
	"golang.org/x/image/font/sfnt"

	"emojimk/internal/core"
)

// ErrFontCheck is returned when a built font lacks something the build
// promised to put in it.
var ErrFontCheck = errors.New("font check failed")

// FontCheckError lists every problem found in one font.
type FontCheckError struct {
	Path     string
	Problems []string
}

func (e *FontCheckError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrFontCheck, e.Path, strings.Join(e.Problems, "; "))
}

func (e *FontCheckError) Unwrap() error { return ErrFontCheck }

// FontReport is what Inspect learned about a font file.
type FontReport struct {
	Path string

	// Tables holds the table tags present in the font, sorted.
	Tables []string

	Family    string
	NumGlyphs int

	// PUAMappings counts cmap entries in the private use areas.
	PUAMappings int

	// Notes collects non-fatal parser complaints.
	Notes []string

	face *font.Font
}

var (
	tagCBDT = opentype.MustNewTag("CBDT")
	tagCBLC = opentype.MustNewTag("CBLC")
)

// Inspect parses the font at path.
//
// The table directory and cmap are read with go-text; the glyph count and
// family name come from x/image/font/sfnt. The sfnt parser does not accept
// every bitmap-only font, so its failure is recorded in Notes rather than
// returned.
func Inspect(path string) (*FontReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rep := &FontReport{Path: path}

	ld, err := opentype.NewLoader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	for _, tag := range ld.Tables() {
		rep.Tables = append(rep.Tables, tag.String())
	}
	sort.Strings(rep.Tables)

	face, err := font.ParseTTF(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	rep.face = face.Font
	if face.Cmap != nil {
		it := face.Cmap.Iter()
		for it.Next() {
			r, _ := it.Char()
			if isPUA(r) {
				rep.PUAMappings++
			}
		}
	}

	sf, err := sfnt.Parse(data)
	if err != nil {
		rep.Notes = append(rep.Notes, fmt.Sprintf("sfnt: %v", err))
		return rep, nil
	}
	rep.NumGlyphs = sf.NumGlyphs()
	family, err := sf.Name(nil, sfnt.NameIDFamily)
	if err != nil {
		rep.Notes = append(rep.Notes, fmt.Sprintf("family name: %v", err))
	} else {
		rep.Family = family
	}
	return rep, nil
}

func isPUA(r rune) bool {
	switch {
	case r >= 0xE000 && r <= 0xF8FF:
		return true
	case r >= 0xF0000 && r <= 0xFFFFD:
		return true
	case r >= 0x100000 && r <= 0x10FFFD:
		return true
	}
	return false
}

// HasTable reports whether the font carries the table tag.
func (r *FontReport) HasTable(tag string) bool {
	i := sort.SearchStrings(r.Tables, tag)
	return i < len(r.Tables) && r.Tables[i] == tag
}

// Covers reports whether the cmap maps r to a glyph.
func (r *FontReport) Covers(c rune) bool {
	if r.face == nil {
		return false
	}
	_, ok := r.face.NominalGlyph(c)
	return ok
}

// Verify checks that the font is a color bitmap font mapping every single
// code point stem, with the PUA mappings added.
func (r *FontReport) Verify(stems []Stem) error {
	var problems []string
	for _, tag := range []opentype.Tag{tagCBDT, tagCBLC} {
		if !r.HasTable(tag.String()) {
			problems = append(problems, fmt.Sprintf("missing %s table", tag))
		}
	}

	var uncovered []string
	for _, s := range stems {
		if len(s.Runes) != 1 {
			continue
		}
		if !r.Covers(s.Runes[0]) {
			uncovered = append(uncovered, fmt.Sprintf("U+%04X", s.Runes[0]))
		}
	}
	if len(uncovered) > 0 {
		problems = append(problems, fmt.Sprintf("no cmap entry for %s", strings.Join(uncovered, ", ")))
	}

	if r.PUAMappings == 0 {
		problems = append(problems, "no private use area mappings")
	}

	if len(problems) > 0 {
		return &FontCheckError{Path: r.Path, Problems: problems}
	}
	return nil
}

// WriteSummary prints a short human readable description of the report.
func (r *FontReport) WriteSummary(w io.Writer) error {
	family := r.Family
	if family == "" {
		family = "(unknown family)"
	}
	_, err := fmt.Fprintf(w, "%s: %s, %d glyphs, %d PUA mappings, tables %s\n",
		r.Path, family, r.NumGlyphs, r.PUAMappings, strings.Join(r.Tables, " "))
	return err
}

// CheckAction inspects the first dependency of the bound task and verifies
// it against stems.
func CheckAction(stems []Stem) core.Action {
	return func(ctx context.Context, b *core.Binding) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(b.Deps) == 0 {
			return fmt.Errorf("%s: nothing to check", b.Target)
		}
		rep, err := Inspect(b.Path(b.Deps[0]))
		if err != nil {
			return err
		}
		if err := rep.WriteSummary(b.Stdout); err != nil {
			return err
		}
		for _, n := range rep.Notes {
			core.Logger().WithField("target", b.Deps[0]).Debug(n)
		}
		return rep.Verify(stems)
	}
}
