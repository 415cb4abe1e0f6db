package nesopack

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Spec is a parsed constraint string, e.g.
//
//	nektar@5.0.0:5.2.0 +mpi~hdf5 fft=mkl %gcc@9: ^llvm build_type=Debug
//
// The same grammar is used for command-line requests, dependency
// declarations and 'when' conditions. A condition spec may be anonymous
// (no leading package name).
type Spec struct {
	Name     string
	Range    VersionRange
	Variants map[string]string // "true"/"false" for boolean variants
	Compiler *CompilerReq
	Deps     []*Spec // ^clauses
}

// CompilerReq constrains the compiler family and optionally its version.
type CompilerReq struct {
	Name  string
	Range VersionRange
}

// VersionRange is a union of spans in Spack syntax: "1.2:", ":3.4",
// "1.2:3.4", "5.2.0", or comma-separated combinations. The zero value
// matches every version.
type VersionRange struct {
	spans []versionSpan
}

type versionSpan struct {
	lo, hi string // empty means open
}

const specMarkers = "@+~%^="

// ParseSpec parses a spec string. An empty string yields an anonymous
// spec that matches anything.
func ParseSpec(s string) (*Spec, error) {
	root := &Spec{Variants: make(map[string]string)}
	target := root

	for _, field := range strings.Fields(s) {
		if strings.HasPrefix(field, "^") {
			dep := &Spec{Variants: make(map[string]string)}
			if err := parseSpecChunk(field[1:], dep); err != nil {
				return nil, fmt.Errorf("invalid spec %q: %w", s, err)
			}
			if dep.Name == "" {
				return nil, fmt.Errorf("invalid spec %q: ^ clause needs a package name", s)
			}
			root.Deps = append(root.Deps, dep)
			// Later fields attach to the dependency until the next ^.
			target = dep
			continue
		}
		if err := parseSpecChunk(field, target); err != nil {
			return nil, fmt.Errorf("invalid spec %q: %w", s, err)
		}
	}
	return root, nil
}

// MustParseSpec is ParseSpec for machine-authored strings (recipes, tests).
func MustParseSpec(s string) *Spec {
	spec, err := ParseSpec(s)
	if err != nil {
		panic(err)
	}
	return spec
}

// parseSpecChunk scans one whitespace-free chunk into the target spec.
// Chunks may concatenate elements without separators ("+arpack+mpi",
// "boost@1.60.0:", "%gcc@:8").
func parseSpecChunk(chunk string, target *Spec) error {
	i := 0
	for i < len(chunk) {
		switch chunk[i] {
		case '@':
			word := readSpecWord(chunk, i+1)
			i += 1 + len(word)
			r, err := ParseVersionRange(word)
			if err != nil {
				return err
			}
			target.Range = r
		case '+':
			word := readSpecWord(chunk, i+1)
			if word == "" {
				return fmt.Errorf("dangling '+' in %q", chunk)
			}
			i += 1 + len(word)
			target.Variants[word] = "true"
		case '~':
			word := readSpecWord(chunk, i+1)
			if word == "" {
				return fmt.Errorf("dangling '~' in %q", chunk)
			}
			i += 1 + len(word)
			target.Variants[word] = "false"
		case '%':
			word := readSpecWord(chunk, i+1)
			if word == "" {
				return fmt.Errorf("dangling '%%' in %q", chunk)
			}
			i += 1 + len(word)
			target.Compiler = &CompilerReq{Name: word}
			if i < len(chunk) && chunk[i] == '@' {
				rangeWord := readSpecWord(chunk, i+1)
				i += 1 + len(rangeWord)
				r, err := ParseVersionRange(rangeWord)
				if err != nil {
					return err
				}
				target.Compiler.Range = r
			}
		case '^':
			return fmt.Errorf("'^' must start a new whitespace-separated clause in %q", chunk)
		default:
			word := readSpecWord(chunk, i)
			if word == "" {
				return fmt.Errorf("unexpected character %q in %q", chunk[i], chunk)
			}
			i += len(word)
			if i < len(chunk) && chunk[i] == '=' {
				value := readSpecWord(chunk, i+1)
				if value == "" {
					return fmt.Errorf("empty value for variant %q in %q", word, chunk)
				}
				i += 1 + len(value)
				target.Variants[word] = value
			} else {
				if target.Name != "" {
					return fmt.Errorf("unexpected name %q after %q", word, target.Name)
				}
				target.Name = word
			}
		}
	}
	return nil
}

// readSpecWord returns the run of non-marker characters starting at pos.
func readSpecWord(chunk string, pos int) string {
	end := pos
	for end < len(chunk) && !strings.ContainsRune(specMarkers, rune(chunk[end])) {
		end++
	}
	return chunk[pos:end]
}

// ParseVersionRange parses a comma-separated union of version spans.
func ParseVersionRange(s string) (VersionRange, error) {
	var r VersionRange
	if s == "" {
		return r, fmt.Errorf("empty version range")
	}
	for _, part := range strings.Split(s, ",") {
		if part == "" {
			return VersionRange{}, fmt.Errorf("empty span in version range %q", s)
		}
		if idx := strings.IndexByte(part, ':'); idx >= 0 {
			r.spans = append(r.spans, versionSpan{lo: part[:idx], hi: part[idx+1:]})
		} else {
			r.spans = append(r.spans, versionSpan{lo: part, hi: part})
		}
	}
	return r, nil
}

// IsAny reports whether the range matches every version.
func (r VersionRange) IsAny() bool {
	return len(r.spans) == 0
}

// Match reports whether version v falls in the range. Matching follows
// Spack semantics: a bare version matches itself and any more specific
// version below it ("3.8" matches "3.8.12"), and bounds are inclusive
// with the same prefix rule on the upper end (":3.9" includes "3.9.7").
func (r VersionRange) Match(v string) bool {
	if len(r.spans) == 0 {
		return true
	}
	for _, span := range r.spans {
		if span.match(v) {
			return true
		}
	}
	return false
}

func (s versionSpan) match(v string) bool {
	if s.lo == s.hi && s.lo != "" {
		return versionHasPrefix(v, s.lo)
	}
	if s.lo != "" {
		if compareVersions(v, s.lo) < 0 {
			return false
		}
	}
	if s.hi != "" {
		if compareVersions(v, s.hi) > 0 && !versionHasPrefix(v, s.hi) {
			return false
		}
	}
	return true
}

func (r VersionRange) String() string {
	parts := make([]string, 0, len(r.spans))
	for _, s := range r.spans {
		if s.lo == s.hi && s.lo != "" {
			parts = append(parts, s.lo)
		} else {
			parts = append(parts, s.lo+":"+s.hi)
		}
	}
	return strings.Join(parts, ",")
}

// versionHasPrefix reports whether v's leading dot-segments equal p's.
func versionHasPrefix(v, p string) bool {
	vs := strings.Split(v, ".")
	ps := strings.Split(p, ".")
	if len(ps) > len(vs) {
		return false
	}
	for i := range ps {
		if vs[i] != ps[i] {
			return false
		}
	}
	return true
}

// compareVersions compares two version strings split by dots. Numeric
// segments are compared numerically; non-numeric fall back to
// lexicographic. Returns -1 if a<b, 0 if equal, 1 if a>b.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		var av, bv string
		if i < len(as) {
			av = as[i]
		} else {
			av = "0"
		}
		if i < len(bs) {
			bv = bs[i]
		} else {
			bv = "0"
		}

		// Try numeric compare
		ai, aerr := strconv.Atoi(av)
		bi, berr := strconv.Atoi(bv)
		if aerr == nil && berr == nil {
			if ai < bi {
				return -1
			}
			if ai > bi {
				return 1
			}
			continue
		}
		// Fallback string compare
		if av < bv {
			return -1
		}
		if av > bv {
			return 1
		}
	}
	return 0
}

// isNumericVersion reports whether the version starts with a digit, i.e.
// is orderable. Branch versions like "main" or "working" are not.
func isNumericVersion(v string) bool {
	return v != "" && v[0] >= '0' && v[0] <= '9'
}

// Assignment is a concretized package: the result of picking a version,
// variant values, compiler and dependencies for one recipe. Conditions
// are evaluated against it.
type Assignment struct {
	Name     string
	Version  string
	Variants map[string]string
	Compiler string // "gcc@12.2.0"
	Platform string
	Deps     map[string]*Assignment // by package name, plus virtual aliases
}

// Satisfies reports whether the assignment meets every constraint in the
// spec. An anonymous spec constrains the assignment itself; ^clauses
// constrain its (transitive) dependencies.
func (s *Spec) Satisfies(a *Assignment) bool {
	if s == nil {
		return true
	}
	if s.Name != "" && s.Name != a.Name {
		return false
	}
	if !s.Range.IsAny() {
		// Externals carry no concrete version; a version constraint on
		// them is undecidable and conservatively unmet.
		if a.Version == "" || !s.Range.Match(a.Version) {
			return false
		}
	}
	for name, want := range s.Variants {
		if name == "platform" {
			if a.Platform != want {
				return false
			}
			continue
		}
		if a.Variants[name] != want {
			return false
		}
	}
	if s.Compiler != nil {
		name, ver := splitCompiler(a.Compiler)
		if name != s.Compiler.Name {
			return false
		}
		if !s.Compiler.Range.IsAny() && !s.Compiler.Range.Match(ver) {
			return false
		}
	}
	for _, dep := range s.Deps {
		got, ok := a.Deps[dep.Name]
		if !ok || got == nil {
			return false
		}
		if !dep.Satisfies(got) {
			return false
		}
	}
	return true
}

// splitCompiler splits "gcc@12.2.0" into family and version.
func splitCompiler(c string) (string, string) {
	if idx := strings.IndexByte(c, '@'); idx >= 0 {
		return c[:idx], c[idx+1:]
	}
	return c, ""
}

func (s *Spec) String() string {
	var b strings.Builder
	b.WriteString(s.Name)
	if !s.Range.IsAny() {
		b.WriteString("@" + s.Range.String())
	}
	keys := make([]string, 0, len(s.Variants))
	for k := range s.Variants {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch s.Variants[k] {
		case "true":
			b.WriteString(" +" + k)
		case "false":
			b.WriteString(" ~" + k)
		default:
			b.WriteString(" " + k + "=" + s.Variants[k])
		}
	}
	if s.Compiler != nil {
		b.WriteString(" %" + s.Compiler.Name)
		if !s.Compiler.Range.IsAny() {
			b.WriteString("@" + s.Compiler.Range.String())
		}
	}
	for _, dep := range s.Deps {
		b.WriteString(" ^" + dep.String())
	}
	return strings.TrimSpace(b.String())
}
