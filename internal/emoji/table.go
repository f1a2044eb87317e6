package emoji

import (
	"context"
	"fmt"
	"os"
	"path"

	"emojimk/internal/config"
	"emojimk/internal/core"
	"emojimk/internal/rules"
)

// Rule names.
const (
	RuleDownscale      = "downscale"
	RuleTemplateExpand = "template-expand"
	RuleCompile        = "compile"
	RuleAssemble       = "assemble"
	RuleUtilityBuild   = "utility-build"
	RuleClean          = "clean"
	RuleAll            = "all"
	RuleCheck          = "check"
	RuleStems          = "stems"
)

// DefaultGoal is built when no goal is named.
const DefaultGoal = RuleAll

// Recipe templates. $(NAME) is a build variable, $@ $< $^ $* are the
// automatic variables of the rule instance.
var (
	downscaleRecipe = []string{
		`$(CONVERT) -geometry 50% "$<" "$@"`,
		`$(OPTIPNG) -quiet -o7 "$@"`,
	}
	templateExpandRecipe = []string{
		`$(PYTHON) $(ADD_GLYPHS) "$<" "$@" "$(EMOJI_PNG128)"`,
	}
	compileRecipe = []string{
		`@rm -f "$@"`,
		`$(TTX) "$<"`,
	}
	assembleRecipe = []string{
		`$(PYTHON) $(EMOJI_BUILDER) -V $< "$@" "$(EMOJI_PNG128)" "$(EMOJI_PNG64)"`,
		`$(PYTHON) $(PUA_ADDER) "$@" "$@-with-pua"`,
		`mv "$@-with-pua" "$@"`,
	}
	utilityBuildRecipe = []string{
		`$(CC) $< -o $@ $(CFLAGS) $(LDFLAGS)`,
	}
)

// cleanTargets are removed by the clean rule. Wildcards are expanded when
// the rule runs.
var cleanTargets = []string{
	"$(WAVEFLAG)",
	"$(EMOJI).ttf",
	"$(EMOJI).tmpl.ttf",
	"$(EMOJI).tmpl.ttx",
	"$(EMOJI).ttf-with-pua",
	"$(EMOJI_PNG64)*.png",
}

// NewTable declares the emoji font build over stems.
//
// Build variables are substituted here, so the table holds the final
// shell text apart from the automatic variables.
func NewTable(cfg *config.Config, stems []Stem) (*rules.Table, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	v := cfg.MustGet

	if len(stems) == 0 {
		core.Logger().WithField("rule", RuleTemplateExpand).
			Warnf("no glyph images match %s*.png", v(config.EmojiPNG128))
	}

	png128 := v(config.EmojiPNG128)
	png64 := v(config.EmojiPNG64)
	images128 := make([]string, len(stems))
	images64 := make([]string, len(stems))
	for i, s := range stems {
		images128[i] = s.Path(png128)
		images64[i] = s.Path(png64)
	}

	font := v(config.Emoji)
	waveflag := v(config.WaveFlag)

	expand := func(lines []string) ([]string, error) {
		out := make([]string, len(lines))
		for i, l := range lines {
			e, err := cfg.Expand(l)
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil
	}
	recipes := make(map[string][]string, 5)
	for name, tmpl := range map[string][]string{
		RuleDownscale:      downscaleRecipe,
		RuleTemplateExpand: templateExpandRecipe,
		RuleCompile:        compileRecipe,
		RuleAssemble:       assembleRecipe,
		RuleUtilityBuild:   utilityBuildRecipe,
	} {
		lines, err := expand(tmpl)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", name, err)
		}
		recipes[name] = lines
	}

	clean, err := expand(cleanTargets)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", RuleClean, err)
	}

	downscale := rules.Rule{
		Name:   RuleDownscale,
		Target: png64 + "%.png",
		Deps:   []string{png128 + "%.png"},
		Recipe: recipes[RuleDownscale],
	}
	if dir := path.Dir(core.CleanPath(png64 + "%")); dir != "." {
		downscale.Recipe = append([]string{fmt.Sprintf(`@mkdir -p "%s"`, dir)}, downscale.Recipe...)
	}
	if v(config.Scaler) == config.ScalerBuiltin {
		downscale.Recipe = nil
		downscale.Action = DownscaleAction(50)
	}

	assembleDeps := []string{font + ".tmpl.ttf", v(config.EmojiBuilder), v(config.PUAAdder)}
	assembleDeps = append(assembleDeps, images128...)
	assembleDeps = append(assembleDeps, images64...)

	return rules.NewTable(
		downscale,
		rules.Rule{
			Name:   RuleTemplateExpand,
			Target: "%.ttx",
			Deps:   append([]string{"%.ttx.tmpl", v(config.AddGlyphs)}, images128...),
			Recipe: recipes[RuleTemplateExpand],
		},
		rules.Rule{
			Name:   RuleCompile,
			Target: "%.ttf",
			Deps:   []string{"%.ttx"},
			Recipe: recipes[RuleCompile],
		},
		rules.Rule{
			Name:   RuleAssemble,
			Target: font + ".ttf",
			Deps:   assembleDeps,
			Recipe: recipes[RuleAssemble],
		},
		rules.Rule{
			Name:   RuleUtilityBuild,
			Target: waveflag,
			Deps:   []string{waveflag + ".c"},
			Recipe: recipes[RuleUtilityBuild],
		},
		rules.Rule{
			Name:   RuleClean,
			Target: RuleClean,
			Phony:  true,
			Action: RemoveAction(clean),
		},
		rules.Rule{
			Name:   RuleAll,
			Target: RuleAll,
			Deps:   []string{font + ".ttf"},
			Phony:  true,
		},
		rules.Rule{
			Name:   RuleCheck,
			Target: RuleCheck,
			Deps:   []string{font + ".ttf"},
			Phony:  true,
			Action: CheckAction(stems),
		},
		rules.Rule{
			Name:   RuleStems,
			Target: RuleStems,
			Phony:  true,
			Action: ListAction(stems, png128),
		},
	)
}

// RemoveAction deletes paths, ignoring those already absent. Entries with
// wildcards are matched against the work directory when the action runs.
func RemoveAction(paths []string) core.Action {
	paths = append([]string(nil), paths...)
	return func(_ context.Context, b *core.Binding) error {
		resolver := core.NewInputResolver(b.WorkDir)
		for _, p := range paths {
			targets := []string{p}
			if core.ContainsGlob(p) {
				matches, err := resolver.Resolve([]string{p})
				if err != nil {
					return err
				}
				targets = matches
			}
			for _, t := range targets {
				err := os.Remove(b.Path(t))
				switch {
				case err == nil:
					fmt.Fprintf(b.Stdout, "removed %s\n", t)
				case os.IsNotExist(err):
				default:
					return err
				}
			}
		}
		return nil
	}
}

// ListAction prints one line per stem: its image, glyph name and the
// Unicode names of its code points. Flags get a fourth column with the
// region code and the flag glyph name used by the waving flag tooling.
func ListAction(stems []Stem, prefix string) core.Action {
	return func(_ context.Context, b *core.Binding) error {
		for _, s := range stems {
			line := fmt.Sprintf("%s\t%s\t%s", s.Path(prefix), s.GlyphName(), s.Describe())
			if region, ok := s.Region(); ok {
				flag, err := FlagGlyphName(region)
				if err != nil {
					return err
				}
				line += fmt.Sprintf("\tflag %s %s", region, flag)
			}
			if _, err := fmt.Fprintln(b.Stdout, line); err != nil {
				return err
			}
		}
		return nil
	}
}
