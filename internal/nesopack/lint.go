package nesopack

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// LintFinding is one defect in the recipe set.
type LintFinding struct {
	Recipe  string
	Problem string
}

func (f LintFinding) String() string {
	return f.Recipe + ": " + f.Problem
}

var sha256Pattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// lintSet validates the whole recipe set: dangling dependency
// references, variant declarations, conflict/when parseability, patch
// integrity and targeting, option branch coverage, and graph acyclicity
// under default variants.
func lintSet(set *RecipeSet, opts ResolveOptions) []LintFinding {
	var findings []LintFinding
	add := func(recipe, format string, args ...interface{}) {
		findings = append(findings, LintFinding{Recipe: recipe, Problem: fmt.Sprintf(format, args...)})
	}

	for _, name := range set.Names() {
		r, _ := set.Find(name)
		lintRecipe(set, r, add)
	}

	// Whole-set property: the dependency graph must be acyclic. Resolve
	// every recipe under defaults; conflicts under the default compiler
	// are data, not defects, so only structural errors are reported.
	for _, name := range set.Names() {
		_, err := Resolve(set, MustParseSpec(name), opts)
		switch {
		case err == nil:
		case errors.Is(err, errDependencyCycle):
			add(name, "dependency cycle: %v", err)
		case errors.Is(err, errRecipeNotFound):
			add(name, "unresolvable dependency: %v", err)
		}
	}

	return findings
}

func lintRecipe(set *RecipeSet, r *Recipe, add func(recipe, format string, args ...interface{})) {
	switch r.Build {
	case "cmake", "autotools", "pip", "bundle":
	default:
		add(r.Name, "unknown build system %q", r.Build)
	}

	// Versions must be fetchable: checksummed archive or git ref. Bundle
	// recipes carry no source of their own.
	for _, rv := range r.Versions {
		if rv.SHA256 != "" && !sha256Pattern.MatchString(rv.SHA256) {
			add(r.Name, "version %s: malformed sha256", rv.Version)
		}
		if r.Build == "bundle" {
			continue
		}
		archive := r.SourceURL(&rv) != ""
		gitRef := (rv.Branch != "" || rv.Commit != "") && r.Git != ""
		if !archive && !gitRef {
			add(r.Name, "version %s has neither an archive URL nor a git ref", rv.Version)
		}
		if archive && rv.Branch == "" && rv.Commit == "" && rv.SHA256 == "" {
			add(r.Name, "version %s: archive source without sha256", rv.Version)
		}
	}

	// Variant names unique; defaults valid; conditional defaults parse.
	seen := make(map[string]bool)
	for i := range r.Variants {
		v := &r.Variants[i]
		if seen[v.Name] {
			add(r.Name, "duplicate variant %q", v.Name)
		}
		seen[v.Name] = true
		if err := checkVariantValue(v, v.Default); err != nil {
			add(r.Name, "default: %v", err)
		}
		for _, cd := range v.WhenDefault {
			if cond, err := ParseSpec(cd.When); err != nil {
				add(r.Name, "variant %s when_default: %v", v.Name, err)
			} else {
				lintConditionVariants(r, cond, fmt.Sprintf("variant %s when_default", v.Name), add)
			}
			if err := checkVariantValue(v, cd.Default); err != nil {
				add(r.Name, "variant %s when_default: %v", v.Name, err)
			}
		}
	}

	// Dependencies reference existing recipes, known upstream packages
	// or provided virtuals; specs and conditions parse.
	for _, d := range r.Depends {
		spec, err := ParseSpec(d.Spec)
		if err != nil {
			add(r.Name, "dependency %q: %v", d.Spec, err)
			continue
		}
		if spec.Name == "" {
			add(r.Name, "dependency %q names no package", d.Spec)
			continue
		}
		if _, err := set.Find(spec.Name); err != nil {
			if !builtinExternals[spec.Name] && !set.IsVirtual(spec.Name) {
				add(r.Name, "dangling dependency %q", spec.Name)
			}
		}
		if cond, err := ParseSpec(d.When); err != nil {
			add(r.Name, "dependency %q when: %v", d.Spec, err)
		} else {
			lintConditionVariants(r, cond, fmt.Sprintf("dependency %q when", d.Spec), add)
		}
		for _, kind := range d.Kinds() {
			switch kind {
			case "build", "link", "run", "test":
			default:
				add(r.Name, "dependency %q: unknown type %q", d.Spec, kind)
			}
		}
	}

	for _, c := range r.Conflicts {
		if _, err := ParseSpec(c.Spec); err != nil {
			add(r.Name, "conflict %q: %v", c.Spec, err)
		}
		if cond, err := ParseSpec(c.When); err != nil {
			add(r.Name, "conflict %q when: %v", c.Spec, err)
		} else {
			lintConditionVariants(r, cond, fmt.Sprintf("conflict %q when", c.Spec), add)
		}
	}

	// Patches exist, parse as unified diffs, and target at least one
	// declared version.
	for _, p := range r.Patches {
		data, err := r.PatchData(p.File)
		if err != nil {
			add(r.Name, "patch %s: %v", p.File, err)
			continue
		}
		if _, err := parsePatch(data); err != nil {
			add(r.Name, "patch %s does not parse: %v", p.File, err)
		}
		cond, err := ParseSpec(p.When)
		if err != nil {
			add(r.Name, "patch %s when: %v", p.File, err)
			continue
		}
		lintConditionVariants(r, cond, fmt.Sprintf("patch %s when", p.File), add)
		targets := 0
		for _, rv := range r.Versions {
			if cond.Range.Match(rv.Version) {
				targets++
			}
		}
		if targets == 0 {
			add(r.Name, "patch %s targets no declared version (when: %s)", p.File, p.When)
		}
	}

	lintOptions(r, add)
}

// lintConditionVariants checks that a condition's top-level variant
// constraints reference variants the recipe declares. 'platform' is an
// ambient key, not a variant.
func lintConditionVariants(r *Recipe, cond *Spec, where string, add func(recipe, format string, args ...interface{})) {
	if cond.Name != "" && cond.Name != r.Name {
		// Condition on another package (e.g. inside a ^clause rendered
		// flat); its variants are not ours to check.
		return
	}
	for vname := range cond.Variants {
		if vname == "platform" {
			continue
		}
		if r.Variant(vname) == nil {
			add(r.Name, "%s references undeclared variant %q", where, vname)
		}
	}
}

// lintOptions verifies option conditions parse and that branches keyed
// on the same build flag are mutually exclusive and exhaustive over the
// enum variant they condition on.
func lintOptions(r *Recipe, add func(recipe, format string, args ...interface{})) {
	all := [][]Option{r.Options.Pre, r.Options.CMake, r.Options.Configure, r.Options.Pip}
	labels := []string{"pre", "cmake", "configure", "pip"}

	for gi, opts := range all {
		byKey := make(map[string][]Option)
		for _, o := range opts {
			cond, err := ParseSpec(o.When)
			if err != nil {
				add(r.Name, "%s option %q when: %v", labels[gi], o.Arg, err)
				continue
			}
			lintConditionVariants(r, cond, fmt.Sprintf("%s option %q when", labels[gi], o.Arg), add)
			byKey[optionKey(o.Arg)] = append(byKey[optionKey(o.Arg)], o)
		}

		for key, group := range byKey {
			if len(group) < 2 {
				continue
			}
			variant := commonEnumVariant(r, group)
			if variant == nil {
				continue
			}
			// Values a branch names must be covered exactly once; values no
			// branch mentions legitimately select no flag, but must never
			// select more than one.
			mentioned := make(map[string]bool)
			for _, o := range group {
				cond, err := ParseSpec(o.When)
				if err != nil {
					continue
				}
				if v, ok := cond.Variants[variant.Name]; ok {
					mentioned[v] = true
				}
			}
			for _, value := range variant.Values {
				assign := defaultAssignment(r)
				assign.Variants[variant.Name] = value
				fired := 0
				for _, o := range group {
					cond, err := ParseSpec(o.When)
					if err != nil {
						continue
					}
					if cond.Satisfies(assign) {
						fired++
					}
				}
				if fired > 1 {
					add(r.Name, "%s option group %q: %d branches fire for %s=%s (want at most 1)",
						labels[gi], key, fired, variant.Name, value)
				}
				if fired == 0 && mentioned[value] {
					add(r.Name, "%s option group %q: no branch fires for %s=%s",
						labels[gi], key, variant.Name, value)
				}
			}
		}
	}
}

// optionKey extracts the flag name of a build argument ("-DFOO=ON" -> "-DFOO").
func optionKey(arg string) string {
	if idx := strings.IndexByte(arg, '='); idx >= 0 {
		return arg[:idx]
	}
	return arg
}

// commonEnumVariant returns the enum variant every option in the group
// conditions on, if there is one.
func commonEnumVariant(r *Recipe, group []Option) *Variant {
	var common *Variant
	for _, o := range group {
		cond, err := ParseSpec(o.When)
		if err != nil {
			return nil
		}
		var hit *Variant
		for vname := range cond.Variants {
			v := r.Variant(vname)
			if v != nil && !v.IsBool() {
				hit = v
			}
		}
		if hit == nil {
			return nil
		}
		if common == nil {
			common = hit
		} else if common.Name != hit.Name {
			return nil
		}
	}
	return common
}

// defaultAssignment builds an assignment with every variant at its
// unconditional default, for static option analysis.
func defaultAssignment(r *Recipe) *Assignment {
	a := &Assignment{
		Name:     r.Name,
		Variants: make(map[string]string),
		Deps:     make(map[string]*Assignment),
	}
	if len(r.Versions) > 0 {
		a.Version = r.Versions[0].Version
	}
	for i := range r.Variants {
		a.Variants[r.Variants[i].Name] = r.Variants[i].Default
	}
	return a
}
