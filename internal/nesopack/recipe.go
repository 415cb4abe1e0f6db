package nesopack

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Recipe describes one buildable artifact: its versions, variants,
// dependency constraints, patches and build steps. Recipes are data for
// the external build tool; nesopack validates and previews them.
type Recipe struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Homepage    string   `yaml:"homepage"`
	Maintainers []string `yaml:"maintainers,omitempty"`

	// Build system: cmake, autotools, pip or bundle (no build, just
	// environment setup).
	Build string `yaml:"build"`

	URL  string `yaml:"url,omitempty"`  // archive URL template, {version} placeholder
	Git  string `yaml:"git,omitempty"`  // git URL for branch/commit versions
	PyPI string `yaml:"pypi,omitempty"` // pypi path, e.g. hypnotoad/hypnotoad-0.5.2.tar.gz

	Provides []string `yaml:"provides,omitempty"` // virtual packages, e.g. sycl

	Versions  []RecipeVersion `yaml:"versions"`
	Variants  []Variant       `yaml:"variants,omitempty"`
	Depends   []Dependency    `yaml:"depends,omitempty"`
	Conflicts []Conflict      `yaml:"conflicts,omitempty"`
	Patches   []PatchRef      `yaml:"patches,omitempty"`

	Options BuildOptions `yaml:"options,omitempty"`
	Env     []EnvExport  `yaml:"env,omitempty"`

	dir      string // on-disk recipe dir, empty for embedded recipes
	embedDir string // path inside the embedded FS
}

// RecipeVersion is one installable version of a recipe.
type RecipeVersion struct {
	Version    string `yaml:"version"`
	SHA256     string `yaml:"sha256,omitempty"`
	URL        string `yaml:"url,omitempty"` // overrides the recipe URL template
	Branch     string `yaml:"branch,omitempty"`
	Commit     string `yaml:"commit,omitempty"`
	Submodules bool   `yaml:"submodules,omitempty"`
	Preferred  bool   `yaml:"preferred,omitempty"`
}

// Variant is a named build-time option. An empty Values list makes it a
// boolean variant with defaults "true"/"false".
type Variant struct {
	Name        string               `yaml:"name"`
	Default     string               `yaml:"default"`
	Description string               `yaml:"description,omitempty"`
	Values      []string             `yaml:"values,omitempty"`
	WhenDefault []ConditionalDefault `yaml:"when_default,omitempty"`
}

// ConditionalDefault overrides the variant default when the condition
// matches (e.g. intel defaults to true under %oneapi).
type ConditionalDefault struct {
	When    string `yaml:"when"`
	Default string `yaml:"default"`
}

// IsBool reports whether the variant is a plain on/off switch.
func (v *Variant) IsBool() bool {
	return len(v.Values) == 0
}

// Dependency is one edge to another recipe or to a known upstream
// package, optionally restricted by a 'when' condition.
type Dependency struct {
	Spec string   `yaml:"spec"`
	When string   `yaml:"when,omitempty"`
	Type []string `yaml:"type,omitempty"` // build/link/run/test; default build,link
}

// Kinds returns the dependency types, applying the default.
func (d *Dependency) Kinds() []string {
	if len(d.Type) == 0 {
		return []string{"build", "link"}
	}
	return d.Type
}

// IsTestOnly reports whether the dependency is needed only for tests.
func (d *Dependency) IsTestOnly() bool {
	kinds := d.Kinds()
	return len(kinds) == 1 && kinds[0] == "test"
}

// Conflict declares an unbuildable combination.
type Conflict struct {
	Spec string `yaml:"spec"`
	When string `yaml:"when,omitempty"`
	Msg  string `yaml:"msg,omitempty"`
}

// PatchRef names a unified-diff file beside the recipe, applied by the
// external tool before building when the condition matches.
type PatchRef struct {
	File string `yaml:"file"`
	When string `yaml:"when,omitempty"`
}

// BuildOptions carries conditional build arguments per build system.
// Pre entries are shell lines emitted verbatim before the configure
// step (setuptools workarounds, out-of-tree copies).
type BuildOptions struct {
	Pre       []Option `yaml:"pre,omitempty"`
	CMake     []Option `yaml:"cmake,omitempty"`
	Configure []Option `yaml:"configure,omitempty"`
	Pip       []Option `yaml:"pip,omitempty"`
}

// Option is a single build argument emitted when its condition matches.
type Option struct {
	Arg  string `yaml:"arg"`
	When string `yaml:"when,omitempty"`
}

// EnvExport is an environment instruction emitted for dependents
// (dpcpp-style bundles). {prefix} expands to the install prefix.
type EnvExport struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
	Op    string `yaml:"op,omitempty"` // set (default), append-path, prepend-path
}

// RecipeSet is the loaded recipe repository: embedded recipes plus any
// on-disk repos from NESOPACK_PATH (disk wins on name collision).
type RecipeSet struct {
	byName map[string]*Recipe
	// providers maps a virtual package to the recipes providing it.
	providers map[string][]string
}

// builtinExternals are upstream packages resolved by the external package
// manager's own repositories. Dependencies on them are legal leaves; lint
// flags anything else that has no recipe.
var builtinExternals = map[string]bool{
	"arpack-ng": true, "blas": true, "boost": true, "bzip2": true,
	"cmake": true, "cuda": true, "expat": true, "fftw": true,
	"gdbm": true, "gettext": true, "googletest": true, "hdf5": true,
	"intel-oneapi-compilers": true, "intel-oneapi-dpl": true,
	"intel-oneapi-mkl": true, "intel-oneapi-tbb": true,
	"lapack": true, "libffi": true, "libnsl": true, "llvm": true,
	"mpi": true, "ncurses": true, "nvhpc": true, "opencl": true,
	"openssl": true, "pkgconfig": true, "python": true,
	"py-click": true, "py-dill": true, "py-h5py": true,
	"py-hypothesis": true, "py-importlib-metadata": true,
	"py-matplotlib": true, "py-mayavi": true, "py-netcdf4": true,
	"py-numpy": true, "py-pyqt5": true, "py-pytest": true,
	"py-pyyaml": true, "py-qtpy": true, "py-scipy": true,
	"py-setuptools": true, "py-setuptools-scm": true,
	"py-setuptools-scm-git-archive": true, "py-versioneer": true,
	"py-wheel": true, "readline": true, "scotch": true, "sqlite": true,
	"tcl": true, "tix": true, "tk": true, "tinyxml": true,
	"uuid": true, "xz": true, "zlib": true,
}

// loadRecipeSet reads the embedded recipes and overlays recipe dirs from
// the colon-separated NESOPACK_PATH.
func loadRecipeSet(cfg *Config) (*RecipeSet, error) {
	set := &RecipeSet{
		byName:    make(map[string]*Recipe),
		providers: make(map[string][]string),
	}

	// 1. Embedded recipes
	entries, err := fs.ReadDir(embeddedRecipes, "recipes")
	if err != nil {
		return nil, fmt.Errorf("embedded recipe set unreadable: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		embedDir := filepath.Join("recipes", entry.Name())
		data, err := embeddedRecipes.ReadFile(filepath.Join(embedDir, "recipe.yaml"))
		if err != nil {
			return nil, fmt.Errorf("embedded recipe %s has no recipe.yaml: %w", entry.Name(), err)
		}
		r, err := parseRecipe(data)
		if err != nil {
			return nil, fmt.Errorf("embedded recipe %s: %w", entry.Name(), err)
		}
		r.embedDir = embedDir
		set.add(r)
	}

	// 2. On-disk repos override embedded recipes of the same name
	if cfg != nil {
		for _, repo := range strings.Split(repoPaths, ":") {
			repo = strings.TrimSpace(repo)
			if repo == "" {
				continue
			}
			dirs, err := os.ReadDir(repo)
			if err != nil {
				colWarn.Printf("Skipping unreadable repo %s: %v\n", repo, err)
				continue
			}
			for _, d := range dirs {
				if !d.IsDir() {
					continue
				}
				recipeDir := filepath.Join(repo, d.Name())
				data, err := os.ReadFile(filepath.Join(recipeDir, "recipe.yaml"))
				if err != nil {
					continue // not a recipe dir
				}
				r, err := parseRecipe(data)
				if err != nil {
					return nil, fmt.Errorf("recipe %s: %w", recipeDir, err)
				}
				r.dir = recipeDir
				set.add(r)
			}
		}
	}

	return set, nil
}

func parseRecipe(data []byte) (*Recipe, error) {
	var r Recipe
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if r.Name == "" {
		return nil, fmt.Errorf("recipe has no name")
	}
	if len(r.Versions) == 0 {
		return nil, fmt.Errorf("recipe %s declares no versions", r.Name)
	}
	return &r, nil
}

func (set *RecipeSet) add(r *Recipe) {
	if old, ok := set.byName[r.Name]; ok {
		// Drop stale provider entries before the override takes effect.
		for _, virt := range old.Provides {
			set.providers[virt] = removeString(set.providers[virt], old.Name)
		}
	}
	set.byName[r.Name] = r
	for _, virt := range r.Provides {
		set.providers[virt] = append(set.providers[virt], r.Name)
		sort.Strings(set.providers[virt])
	}
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

// Find returns the recipe for name, or errRecipeNotFound.
func (set *RecipeSet) Find(name string) (*Recipe, error) {
	if r, ok := set.byName[name]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("%w: %s", errRecipeNotFound, name)
}

// Names returns all recipe names, sorted.
func (set *RecipeSet) Names() []string {
	names := make([]string, 0, len(set.byName))
	for name := range set.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Providers returns the recipes providing a virtual package.
func (set *RecipeSet) Providers(virtual string) []string {
	return set.providers[virtual]
}

// IsVirtual reports whether some recipe provides name.
func (set *RecipeSet) IsVirtual(name string) bool {
	return len(set.providers[name]) > 0
}

// Variant looks up a declared variant by name.
func (r *Recipe) Variant(name string) *Variant {
	for i := range r.Variants {
		if r.Variants[i].Name == name {
			return &r.Variants[i]
		}
	}
	return nil
}

// VersionNamed returns the declared version record for an exact version.
func (r *Recipe) VersionNamed(v string) *RecipeVersion {
	for i := range r.Versions {
		if r.Versions[i].Version == v {
			return &r.Versions[i]
		}
	}
	return nil
}

// PickVersion selects the version to use for a range: the preferred
// version if it matches, otherwise the highest matching numeric version,
// otherwise the first matching declared version.
func (r *Recipe) PickVersion(want VersionRange) (*RecipeVersion, error) {
	var best *RecipeVersion
	for i := range r.Versions {
		rv := &r.Versions[i]
		if !want.Match(rv.Version) {
			continue
		}
		if rv.Preferred {
			return rv, nil
		}
		if best == nil {
			best = rv
			continue
		}
		if isNumericVersion(rv.Version) && (!isNumericVersion(best.Version) ||
			compareVersions(rv.Version, best.Version) > 0) {
			best = rv
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no version of %s matches @%s", r.Name, want.String())
	}
	return best, nil
}

// SourceURL renders the download URL for a version, or "" for git
// checkouts the external tool clones itself.
func (r *Recipe) SourceURL(rv *RecipeVersion) string {
	if rv.URL != "" {
		return rv.URL
	}
	if rv.Branch != "" || rv.Commit != "" {
		return ""
	}
	if r.PyPI != "" {
		path := strings.ReplaceAll(r.PyPI, "{version}", rv.Version)
		return "https://files.pythonhosted.org/packages/source/" +
			string(path[0]) + "/" + path
	}
	if r.URL != "" {
		return strings.ReplaceAll(r.URL, "{version}", rv.Version)
	}
	return ""
}

// PatchData reads a patch file from the recipe dir (disk recipes) or the
// embedded FS.
func (r *Recipe) PatchData(file string) ([]byte, error) {
	if strings.Contains(file, "/") || strings.Contains(file, "..") {
		return nil, fmt.Errorf("patch name %q must be a bare filename", file)
	}
	if r.dir != "" {
		return os.ReadFile(filepath.Join(r.dir, file))
	}
	if r.embedDir != "" {
		return embeddedRecipes.ReadFile(filepath.Join(r.embedDir, file))
	}
	return nil, fmt.Errorf("recipe %s has no backing directory for patch %s", r.Name, file)
}
