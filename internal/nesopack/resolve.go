package nesopack

import (
	"fmt"
	"sort"
	"strings"
)

// ResolveOptions carries the ambient choices a request is concretized
// under. They stand in for the environment the external package manager
// would supply.
type ResolveOptions struct {
	Platform     string
	Compiler     string // e.g. "gcc@12.2.0"
	SyclProvider string // default provider for the virtual sycl package
	WithTests    bool   // include test-only dependencies
}

func resolveOptionsFromConfig(cfg *Config) ResolveOptions {
	return ResolveOptions{
		Platform:     cfg.Values["NESOPACK_PLATFORM"],
		Compiler:     cfg.Values["NESOPACK_COMPILER"],
		SyclProvider: cfg.Values["NESOPACK_SYCL"],
	}
}

// Node is one concretized package in a plan.
type Node struct {
	Name     string
	Recipe   *Recipe // nil for externals
	Assign   *Assignment
	External bool
	// Requirements accumulates the constraint strings placed on an
	// external package by its dependents, for display.
	Requirements []string
	DepNames     []string
}

// Plan is the transitive dependency set for one root spec, in
// topological order (dependencies first).
type Plan struct {
	Root  *Node
	Nodes map[string]*Node
	Order []string
}

type resolver struct {
	set        *RecipeSet
	opts       ResolveOptions
	nodes      map[string]*Node
	inProgress map[string]bool
	order      []string
	// pins are ^clauses from the root request, applied when the named
	// package is reached anywhere in the graph.
	pins map[string]*Spec
}

// Resolve concretizes a root spec against the recipe set and enumerates
// the transitive dependency closure. It is a preview of the data the
// external package manager consumes, not a replacement for its
// concretizer: version selection is recipe-local and variant defaults
// are taken as declared.
func Resolve(set *RecipeSet, root *Spec, opts ResolveOptions) (*Plan, error) {
	if root.Name == "" {
		return nil, fmt.Errorf("root spec needs a package name")
	}
	// A compiler request on the root propagates to the whole graph, the
	// way the external tool applies %compiler to a unified DAG.
	if root.Compiler != nil {
		opts.Compiler = root.Compiler.Name
		if !root.Compiler.Range.IsAny() {
			opts.Compiler += "@" + rangeFloor(root.Compiler.Range)
		}
	}
	r := &resolver{
		set:        set,
		opts:       opts,
		nodes:      make(map[string]*Node),
		inProgress: make(map[string]bool),
		pins:       make(map[string]*Spec),
	}
	for _, dep := range root.Deps {
		name := dep.Name
		// A root ^clause naming a provider selects it for the virtual.
		for _, virt := range providedVirtuals(set, name) {
			if virt == "sycl" {
				opts.SyclProvider = name
				r.opts.SyclProvider = name
			}
		}
		r.pins[name] = dep
	}

	rootNode, err := r.resolve(root, true)
	if err != nil {
		return nil, err
	}

	// Root ^clauses that nothing pulled in become explicit extra deps,
	// matching how the external tool treats them.
	for name, pin := range r.pins {
		if _, ok := r.nodes[name]; ok {
			continue
		}
		node, err := r.resolve(pin, false)
		if err != nil {
			return nil, err
		}
		rootNode.DepNames = appendUnique(rootNode.DepNames, node.Name)
		rootNode.Assign.Deps[node.Name] = node.Assign
	}

	return &Plan{Root: rootNode, Nodes: r.nodes, Order: r.order}, nil
}

func providedVirtuals(set *RecipeSet, name string) []string {
	recipe, err := set.Find(name)
	if err != nil {
		return nil
	}
	return recipe.Provides
}

// resolve concretizes one spec into a node, recursing through its
// dependency edges. Post-order append keeps r.order topological.
func (r *resolver) resolve(spec *Spec, isRoot bool) (*Node, error) {
	name := spec.Name

	// Virtual package: substitute the selected provider.
	if r.set.IsVirtual(name) {
		provider, err := r.pickProvider(name)
		if err != nil {
			return nil, err
		}
		sub := *spec
		sub.Name = provider
		return r.resolve(&sub, isRoot)
	}

	// Cycle detection
	if r.inProgress[name] {
		return nil, fmt.Errorf("%w through %s", errDependencyCycle, name)
	}

	if node, ok := r.nodes[name]; ok {
		return r.merge(node, spec)
	}

	recipe, err := r.set.Find(name)
	if err != nil {
		if builtinExternals[name] {
			return r.external(spec), nil
		}
		return nil, fmt.Errorf("dangling dependency: %w", err)
	}

	r.inProgress[name] = true
	defer delete(r.inProgress, name)

	if pin := r.pins[name]; pin != nil && !isRoot {
		merged := *spec
		spec = &merged
		if spec.Range.IsAny() {
			spec.Range = pin.Range
		}
		for k, v := range pin.Variants {
			if spec.Variants == nil {
				spec.Variants = map[string]string{}
			}
			spec.Variants[k] = v
		}
	}

	rv, err := recipe.PickVersion(spec.Range)
	if err != nil {
		return nil, err
	}

	assign := &Assignment{
		Name:     name,
		Version:  rv.Version,
		Variants: make(map[string]string),
		Compiler: r.opts.Compiler,
		Platform: r.opts.Platform,
		Deps:     make(map[string]*Assignment),
	}
	if spec.Compiler != nil {
		assign.Compiler = spec.Compiler.Name
		if !spec.Compiler.Range.IsAny() {
			assign.Compiler += "@" + rangeFloor(spec.Compiler.Range)
		}
	}

	// 1. Variant defaults, then conditional defaults, then requested values.
	for i := range recipe.Variants {
		v := &recipe.Variants[i]
		assign.Variants[v.Name] = v.Default
	}
	for i := range recipe.Variants {
		v := &recipe.Variants[i]
		for _, cd := range v.WhenDefault {
			cond, err := ParseSpec(cd.When)
			if err != nil {
				return nil, fmt.Errorf("%s: variant %s when_default: %w", name, v.Name, err)
			}
			if cond.Satisfies(assign) {
				assign.Variants[v.Name] = cd.Default
			}
		}
	}
	for vname, value := range spec.Variants {
		v := recipe.Variant(vname)
		if v == nil {
			return nil, fmt.Errorf("%s has no variant %q", name, vname)
		}
		assign.Variants[vname] = value
	}
	for vname, value := range assign.Variants {
		v := recipe.Variant(vname)
		if err := checkVariantValue(v, value); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}

	node := &Node{Name: name, Recipe: recipe, Assign: assign}
	r.nodes[name] = node

	// 2. Dependency edges. Conditions referencing ^deps can only be
	// evaluated once the subtree exists, so loop until no edge flips.
	resolved := make(map[int]bool)
	for pass := 0; pass <= len(recipe.Depends); pass++ {
		progressed := false
		for i := range recipe.Depends {
			if resolved[i] {
				continue
			}
			dep := &recipe.Depends[i]
			if dep.IsTestOnly() && !r.opts.WithTests {
				resolved[i] = true
				continue
			}
			cond, err := ParseSpec(dep.When)
			if err != nil {
				return nil, fmt.Errorf("%s: dependency %q when: %w", name, dep.Spec, err)
			}
			if !cond.Satisfies(assign) {
				if !condMentionsDeps(cond) {
					resolved[i] = true
				}
				continue
			}
			depSpec, err := ParseSpec(dep.Spec)
			if err != nil {
				return nil, fmt.Errorf("%s: dependency spec %q: %w", name, dep.Spec, err)
			}
			child, err := r.resolve(depSpec, false)
			if err != nil {
				return nil, fmt.Errorf("%s -> %w", name, err)
			}
			node.DepNames = appendUnique(node.DepNames, child.Name)
			assign.Deps[child.Name] = child.Assign
			// Virtual aliases stay visible to ^sycl-style conditions.
			if child.Recipe != nil {
				for _, virt := range child.Recipe.Provides {
					assign.Deps[virt] = child.Assign
				}
			}
			// Transitive deps are visible too (Spack ^ semantics).
			for depName, depAssign := range child.Assign.Deps {
				if _, ok := assign.Deps[depName]; !ok {
					assign.Deps[depName] = depAssign
				}
			}
			resolved[i] = true
			progressed = true
		}
		if !progressed {
			break
		}
	}

	// 3. Conflicts are checked against the fully concretized node.
	for _, c := range recipe.Conflicts {
		hit, err := conflictApplies(&c, assign)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if hit {
			msg := c.Msg
			if msg == "" {
				msg = fmt.Sprintf("conflicts with %s", c.Spec)
			}
			return nil, fmt.Errorf("%s: %s", name, msg)
		}
	}

	sort.Strings(node.DepNames)
	r.order = append(r.order, name)
	return node, nil
}

// merge re-checks an already concretized node against a new requirement
// from another dependent.
func (r *resolver) merge(node *Node, spec *Spec) (*Node, error) {
	if node.External {
		return r.mergeExternal(node, spec), nil
	}
	if !spec.Satisfies(node.Assign) {
		return nil, fmt.Errorf("conflicting requirements on %s: already %s, also requested %s",
			node.Name, renderAssignment(node.Assign), spec.String())
	}
	return node, nil
}

// external records an upstream package the external tool resolves
// itself. Constraints from all dependents are accumulated for display;
// contradictory variant requests are an error.
func (r *resolver) external(spec *Spec) *Node {
	node := &Node{
		Name:     spec.Name,
		External: true,
		Assign: &Assignment{
			Name:     spec.Name,
			Variants: make(map[string]string),
			Compiler: r.opts.Compiler,
			Platform: r.opts.Platform,
			Deps:     make(map[string]*Assignment),
		},
	}
	r.nodes[spec.Name] = node
	r.order = append(r.order, spec.Name)
	return r.mergeExternal(node, spec)
}

func (r *resolver) mergeExternal(node *Node, spec *Spec) *Node {
	if req := strings.TrimPrefix(spec.String(), spec.Name); strings.TrimSpace(req) != "" {
		node.Requirements = appendUnique(node.Requirements, strings.TrimSpace(req))
		sort.Strings(node.Requirements)
	}
	for k, v := range spec.Variants {
		node.Assign.Variants[k] = v
	}
	return node
}

func (r *resolver) pickProvider(virtual string) (string, error) {
	providers := r.set.Providers(virtual)
	if len(providers) == 0 {
		return "", fmt.Errorf("no recipe provides %s", virtual)
	}
	if virtual == "sycl" && r.opts.SyclProvider != "" {
		for _, p := range providers {
			if p == r.opts.SyclProvider {
				return p, nil
			}
		}
		return "", fmt.Errorf("configured sycl provider %q does not provide sycl (have: %s)",
			r.opts.SyclProvider, strings.Join(providers, ", "))
	}
	return providers[0], nil
}

func conflictApplies(c *Conflict, a *Assignment) (bool, error) {
	when, err := ParseSpec(c.When)
	if err != nil {
		return false, fmt.Errorf("conflict %q when: %w", c.Spec, err)
	}
	if !when.Satisfies(a) {
		return false, nil
	}
	spec, err := ParseSpec(c.Spec)
	if err != nil {
		return false, fmt.Errorf("conflict spec %q: %w", c.Spec, err)
	}
	// A named conflict spec targets a dependency; anonymous ones (and
	// %compiler-only ones) target the package itself.
	if spec.Name != "" && spec.Name != a.Name {
		dep, ok := a.Deps[spec.Name]
		if !ok {
			return false, nil
		}
		return spec.Satisfies(dep), nil
	}
	return spec.Satisfies(a), nil
}

func checkVariantValue(v *Variant, value string) error {
	if v == nil {
		return nil
	}
	if v.IsBool() {
		if value != "true" && value != "false" {
			return fmt.Errorf("variant %s is boolean, got %q", v.Name, value)
		}
		return nil
	}
	for _, allowed := range v.Values {
		if value == allowed {
			return nil
		}
	}
	return fmt.Errorf("variant %s has no value %q (allowed: %s)",
		v.Name, value, strings.Join(v.Values, ", "))
}

// condMentionsDeps reports whether a condition can only be decided once
// dependency edges exist.
func condMentionsDeps(s *Spec) bool {
	return len(s.Deps) > 0
}

// rangeFloor returns the lowest concrete bound of a range, for display.
func rangeFloor(r VersionRange) string {
	if len(r.spans) == 0 {
		return ""
	}
	if r.spans[0].lo != "" {
		return r.spans[0].lo
	}
	return r.spans[0].hi
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

// renderAssignment formats a concretized package one-line, spec style.
func renderAssignment(a *Assignment) string {
	var b strings.Builder
	b.WriteString(a.Name)
	if a.Version != "" {
		b.WriteString("@" + a.Version)
	}
	keys := make([]string, 0, len(a.Variants))
	for k := range a.Variants {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch a.Variants[k] {
		case "true":
			b.WriteString(" +" + k)
		case "false":
			b.WriteString(" ~" + k)
		default:
			b.WriteString(" " + k + "=" + a.Variants[k])
		}
	}
	return b.String()
}
