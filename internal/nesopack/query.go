package nesopack

import (
	"fmt"
	"sort"
	"strings"
)

// handleListCommand prints the recipe set, optionally filtered.
func handleListCommand(args []string, cfg *Config) error {
	set, err := loadRecipeSet(cfg)
	if err != nil {
		return err
	}
	filter := ""
	if len(args) > 0 {
		filter = args[0]
	}

	for _, name := range set.Names() {
		if filter != "" && !strings.Contains(name, filter) {
			continue
		}
		r, _ := set.Find(name)
		versions := make([]string, 0, len(r.Versions))
		for _, rv := range r.Versions {
			versions = append(versions, rv.Version)
		}
		colSuccess.Printf("%-18s", name)
		fmt.Printf(" %s\n", strings.Join(versions, ", "))
	}
	return nil
}

// handleShowCommand prints one recipe in full.
func handleShowCommand(args []string, cfg *Config) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: nesopack show <pkg>")
	}
	set, err := loadRecipeSet(cfg)
	if err != nil {
		return err
	}
	r, err := set.Find(args[0])
	if err != nil {
		return err
	}

	colSuccess.Println(r.Name)
	if r.Description != "" {
		fmt.Printf("  %s\n", r.Description)
	}
	if r.Homepage != "" {
		fmt.Printf("  homepage: %s\n", r.Homepage)
	}
	fmt.Printf("  build:    %s\n", r.Build)
	if len(r.Provides) > 0 {
		fmt.Printf("  provides: %s\n", strings.Join(r.Provides, ", "))
	}

	fmt.Println("  versions:")
	for _, rv := range r.Versions {
		line := "    " + rv.Version
		switch {
		case rv.SHA256 != "":
			line += "  sha256=" + rv.SHA256[:12] + "..."
		case rv.Commit != "":
			line += "  commit=" + rv.Commit[:12]
		case rv.Branch != "":
			line += "  branch=" + rv.Branch
		}
		if rv.Preferred {
			line += "  (preferred)"
		}
		fmt.Println(line)
	}

	if len(r.Variants) > 0 {
		fmt.Println("  variants:")
		for _, v := range r.Variants {
			if v.IsBool() {
				fmt.Printf("    %-14s default=%-8s %s\n", v.Name, v.Default, v.Description)
			} else {
				fmt.Printf("    %-14s default=%-8s [%s]  %s\n", v.Name, v.Default,
					strings.Join(v.Values, "|"), v.Description)
			}
		}
	}

	if len(r.Depends) > 0 {
		fmt.Println("  depends:")
		for _, d := range r.Depends {
			line := "    " + d.Spec
			if d.When != "" {
				line += "  when: " + d.When
			}
			if len(d.Type) > 0 {
				line += "  (" + strings.Join(d.Type, ",") + ")"
			}
			fmt.Println(line)
		}
	}

	if len(r.Patches) > 0 {
		fmt.Println("  patches:")
		for _, p := range r.Patches {
			line := "    " + p.File
			if p.When != "" {
				line += "  when: " + p.When
			}
			fmt.Println(line)
		}
	}
	return nil
}

// handleDependsCommand prints the direct dependencies of a recipe, or
// with --reverse the recipes depending on it.
func handleDependsCommand(args []string, cfg *Config) error {
	reverse := false
	var pkg string
	for _, arg := range args {
		if arg == "--reverse" || arg == "-r" {
			reverse = true
		} else {
			pkg = arg
		}
	}
	if pkg == "" {
		return fmt.Errorf("usage: nesopack depends [--reverse] <pkg>")
	}

	set, err := loadRecipeSet(cfg)
	if err != nil {
		return err
	}

	if !reverse {
		r, err := set.Find(pkg)
		if err != nil {
			return err
		}
		for _, d := range r.Depends {
			if d.When != "" {
				fmt.Printf("%s  (when: %s)\n", d.Spec, d.When)
			} else {
				fmt.Println(d.Spec)
			}
		}
		return nil
	}

	// Reverse: scan every recipe's dependency specs for the name. The
	// target may be a virtual, a builtin or a recipe.
	if _, err := set.Find(pkg); err != nil && !builtinExternals[pkg] && !set.IsVirtual(pkg) {
		return err
	}
	var dependents []string
	for _, name := range set.Names() {
		r, _ := set.Find(name)
		for _, d := range r.Depends {
			spec, err := ParseSpec(d.Spec)
			if err != nil {
				continue
			}
			if spec.Name == pkg {
				dependents = append(dependents, name)
				break
			}
		}
	}
	sort.Strings(dependents)
	for _, name := range dependents {
		fmt.Println(name)
	}
	return nil
}

// handleResolveCommand implements 'nesopack resolve <spec>': concretize
// and print the transitive dependency plan in build order.
func handleResolveCommand(args []string, cfg *Config) error {
	withTests := false
	var specArgs []string
	for _, arg := range args {
		if arg == "--tests" {
			withTests = true
			continue
		}
		specArgs = append(specArgs, arg)
	}
	if len(specArgs) == 0 {
		return fmt.Errorf("usage: nesopack resolve [--tests] <spec>")
	}

	set, err := loadRecipeSet(cfg)
	if err != nil {
		return err
	}
	spec, err := ParseSpec(strings.Join(specArgs, " "))
	if err != nil {
		return err
	}
	opts := resolveOptionsFromConfig(cfg)
	opts.WithTests = withTests

	plan, err := Resolve(set, spec, opts)
	if err != nil {
		return err
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Build order for %s (%d packages)\n", spec.String(), len(plan.Order))
	for _, name := range plan.Order {
		node := plan.Nodes[name]
		if node.External {
			reqs := ""
			if len(node.Requirements) > 0 {
				reqs = "  " + strings.Join(node.Requirements, "  ")
			}
			colNote.Printf("  %s%s  (external)\n", name, reqs)
			continue
		}
		fmt.Printf("  %s\n", renderAssignment(node.Assign))
	}
	return nil
}
