package nesopack

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// emitBuildScript renders the build-step instructions for one
// concretized node as a shell fragment for the external build tool.
// nesopack never executes these itself.
//
// Placeholders in recipe options: {prefix} is the node's install
// prefix, {prefix:pkg} the prefix of a dependency, {version} the
// concretized version. They expand to ${PREFIX} / ${PREFIX_PKG} shell
// variables the external tool exports.
func emitBuildScript(w io.Writer, node *Node) error {
	if node.Recipe == nil {
		return fmt.Errorf("%s is an external package; its build is owned by the package manager", node.Name)
	}
	r := node.Recipe
	a := node.Assign

	fmt.Fprintf(w, "# %s@%s\n", a.Name, a.Version)
	fmt.Fprintf(w, "# variants: %s\n", renderVariants(a))
	if a.Compiler != "" {
		fmt.Fprintf(w, "# compiler: %%%s\n", a.Compiler)
	}
	fmt.Fprintln(w, "set -e")
	fmt.Fprintln(w)

	// Patches go first, in declaration order.
	patches, err := matchingPatches(r, a)
	if err != nil {
		return err
	}
	for _, p := range patches {
		fmt.Fprintf(w, "patch -p1 < \"${RECIPE_DIR}/%s\"\n", p.File)
	}
	if len(patches) > 0 {
		fmt.Fprintln(w)
	}

	pre, err := selectOptions(r.Options.Pre, a)
	if err != nil {
		return err
	}
	for _, line := range pre {
		fmt.Fprintln(w, expandPlaceholders(line, a))
	}
	if len(pre) > 0 {
		fmt.Fprintln(w)
	}

	switch r.Build {
	case "cmake":
		args, err := selectOptions(r.Options.CMake, a)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "cmake -S . -B build \\")
		fmt.Fprintln(w, "    -DCMAKE_INSTALL_PREFIX=\"${PREFIX}\" \\")
		for i, arg := range args {
			sep := " \\"
			if i == len(args)-1 {
				sep = ""
			}
			fmt.Fprintf(w, "    %s%s\n", shellQuote(expandPlaceholders(arg, a)), sep)
		}
		fmt.Fprintln(w, "cmake --build build -j\"${JOBS:-$(nproc)}\"")
		fmt.Fprintln(w, "cmake --install build")
	case "autotools":
		args, err := selectOptions(r.Options.Configure, a)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "./configure --prefix=\"${PREFIX}\" \\")
		for i, arg := range args {
			sep := " \\"
			if i == len(args)-1 {
				sep = ""
			}
			fmt.Fprintf(w, "    %s%s\n", shellQuote(expandPlaceholders(arg, a)), sep)
		}
		fmt.Fprintln(w, "make -j\"${JOBS:-$(nproc)}\"")
		fmt.Fprintln(w, "make install")
	case "pip":
		args, err := selectOptions(r.Options.Pip, a)
		if err != nil {
			return err
		}
		cmd := "python3 -m pip install . --prefix=\"${PREFIX}\" --no-build-isolation"
		for _, arg := range args {
			cmd += " " + shellQuote(expandPlaceholders(arg, a))
		}
		fmt.Fprintln(w, cmd)
	case "bundle":
		fmt.Fprintln(w, "# bundle package: no build step, environment setup only")
	default:
		return fmt.Errorf("%s: unknown build system %q", r.Name, r.Build)
	}

	if len(r.Env) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# environment for dependents")
		for _, e := range r.Env {
			value := expandPlaceholders(e.Value, a)
			switch e.Op {
			case "", "set":
				fmt.Fprintf(w, "export %s=%s\n", e.Name, shellQuote(value))
			case "append-path":
				fmt.Fprintf(w, "export %s=\"${%s:+${%s}:}%s\"\n", e.Name, e.Name, e.Name, value)
			case "prepend-path":
				fmt.Fprintf(w, "export %s=\"%s${%s:+:${%s}}\"\n", e.Name, value, e.Name, e.Name)
			default:
				return fmt.Errorf("%s: env %s has unknown op %q", r.Name, e.Name, e.Op)
			}
		}
	}
	return nil
}

// selectOptions evaluates option conditions against the assignment and
// returns the matching arguments in declaration order.
func selectOptions(opts []Option, a *Assignment) ([]string, error) {
	var out []string
	for _, o := range opts {
		cond, err := ParseSpec(o.When)
		if err != nil {
			return nil, fmt.Errorf("option %q when: %w", o.Arg, err)
		}
		if cond.Satisfies(a) {
			out = append(out, o.Arg)
		}
	}
	return out, nil
}

func expandPlaceholders(s string, a *Assignment) string {
	s = strings.ReplaceAll(s, "{version}", a.Version)
	s = strings.ReplaceAll(s, "{prefix}", "${PREFIX}")
	for strings.Contains(s, "{prefix:") {
		start := strings.Index(s, "{prefix:")
		end := strings.IndexByte(s[start:], '}')
		if end < 0 {
			break
		}
		dep := s[start+len("{prefix:") : start+end]
		shellVar := "${PREFIX_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(dep)) + "}"
		s = s[:start] + shellVar + s[start+end+1:]
	}
	return s
}

// shellQuote wraps an argument in double quotes when it contains
// characters the shell would split on, leaving ${...} expansions alive.
func shellQuote(s string) string {
	if strings.ContainsAny(s, " \t'") {
		return `"` + s + `"`
	}
	return s
}

func renderVariants(a *Assignment) string {
	keys := make([]string, 0, len(a.Variants))
	for k := range a.Variants {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+a.Variants[k])
	}
	if len(parts) == 0 {
		return "(none)"
	}
	return strings.Join(parts, " ")
}

// handleEmitCommand implements 'nesopack emit <spec>'.
func handleEmitCommand(args []string, cfg *Config) error {
	outPath := ""
	var specArgs []string
	for i := 0; i < len(args); i++ {
		if args[i] == "-o" && i+1 < len(args) {
			outPath = args[i+1]
			i++
			continue
		}
		specArgs = append(specArgs, args[i])
	}
	if len(specArgs) == 0 {
		return fmt.Errorf("usage: nesopack emit [-o file] <spec>")
	}

	set, err := loadRecipeSet(cfg)
	if err != nil {
		return err
	}
	spec, err := ParseSpec(strings.Join(specArgs, " "))
	if err != nil {
		return err
	}
	plan, err := Resolve(set, spec, resolveOptionsFromConfig(cfg))
	if err != nil {
		return err
	}

	w := io.Writer(os.Stdout)
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	fmt.Fprintln(w, "#!/bin/sh")
	fmt.Fprintln(w, "# generated by nesopack emit; consumed by the external build tool")
	fmt.Fprintln(w)
	return emitBuildScript(w, plan.Root)
}
