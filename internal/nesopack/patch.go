package nesopack

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
)

// parsePatch parses a unified diff and rejects empty or hunk-less
// patches, the main authoring mistakes.
func parsePatch(data []byte) ([]*gitdiff.File, error) {
	files, _, err := gitdiff.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("patch contains no file diffs")
	}
	for _, f := range files {
		if len(f.TextFragments) == 0 && !f.IsNew && !f.IsDelete && !f.IsRename {
			return nil, fmt.Errorf("diff for %s has no hunks", patchFileName(f))
		}
	}
	return files, nil
}

// dryRunPatch applies a patch against an extracted source tree without
// writing anything, reporting the first hunk that no longer matches.
// This is the check for the patch-drift failure mode: upstream moved on
// and the patch context is stale.
func dryRunPatch(tree string, data []byte) error {
	files, err := parsePatch(data)
	if err != nil {
		return err
	}
	for _, f := range files {
		name := patchFileName(f)
		target := filepath.Join(tree, filepath.FromSlash(name))
		if !strings.HasPrefix(target, filepath.Clean(tree)+string(os.PathSeparator)) {
			return fmt.Errorf("patch escapes source tree: %s", name)
		}

		var src io.ReaderAt = bytes.NewReader(nil)
		if !f.IsNew {
			data, err := os.ReadFile(target)
			if err != nil {
				return fmt.Errorf("patch target missing: %s", name)
			}
			src = bytes.NewReader(data)
		} else if _, err := os.Stat(target); err == nil {
			return fmt.Errorf("patch creates %s but it already exists", name)
		}

		if err := gitdiff.Apply(io.Discard, src, f); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// patchFileName returns the tree-relative target of a file diff. Plain
// unified diffs carry their "a/"/"b/" prefixes through parsing, so one
// leading component is stripped (patch -p1 semantics).
func patchFileName(f *gitdiff.File) string {
	name := f.NewName
	if name == "" {
		name = f.OldName
	}
	if strings.HasPrefix(name, "a/") || strings.HasPrefix(name, "b/") {
		name = name[2:]
	}
	return name
}

// matchingPatches returns the patches that apply to a concretized
// recipe, in declaration order.
func matchingPatches(r *Recipe, a *Assignment) ([]PatchRef, error) {
	var out []PatchRef
	for _, p := range r.Patches {
		cond, err := ParseSpec(p.When)
		if err != nil {
			return nil, fmt.Errorf("patch %s when: %w", p.File, err)
		}
		if cond.Satisfies(a) {
			out = append(out, p)
		}
	}
	return out, nil
}

// handleVerifyPatchesCommand extracts a fetched source archive and
// dry-runs every patch that targets the selected version.
func handleVerifyPatchesCommand(args []string, cfg *Config) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: nesopack verify-patches <pkg>[@version]")
	}
	set, err := loadRecipeSet(cfg)
	if err != nil {
		return err
	}
	spec, err := ParseSpec(args[0])
	if err != nil {
		return err
	}
	recipe, err := set.Find(spec.Name)
	if err != nil {
		return err
	}
	rv, err := recipe.PickVersion(spec.Range)
	if err != nil {
		return err
	}
	assign := defaultAssignment(recipe)
	assign.Version = rv.Version
	assign.Platform = cfg.Values["NESOPACK_PLATFORM"]
	assign.Compiler = cfg.Values["NESOPACK_COMPILER"]

	patches, err := matchingPatches(recipe, assign)
	if err != nil {
		return err
	}
	if len(patches) == 0 {
		colArrow.Print("-> ")
		colNote.Printf("No patches target %s@%s\n", recipe.Name, rv.Version)
		return nil
	}

	url := recipe.SourceURL(rv)
	if url == "" {
		return fmt.Errorf("%s@%s is a git checkout; fetch it manually and pass the tree", recipe.Name, rv.Version)
	}
	archive := filepath.Join(SourcesDir, recipe.Name, filepath.Base(url))
	if _, err := os.Stat(archive); err != nil {
		return fmt.Errorf("source archive not fetched: run 'nesopack fetch %s' first", recipe.Name)
	}

	tree := filepath.Join(WorkDir, fmt.Sprintf("%s-%s", recipe.Name, rv.Version))
	extract := true
	if _, err := os.Stat(tree); err == nil {
		// Reuse a previous extraction unless the user wants a clean one.
		extract = askForConfirmation(colWarn, "Work tree %s already exists, re-extract?", tree)
	}
	if extract {
		if err := os.RemoveAll(tree); err != nil {
			return err
		}
		if err := os.MkdirAll(tree, 0o755); err != nil {
			return err
		}
		colArrow.Print("-> ")
		colSuccess.Printf("Extracting %s\n", filepath.Base(archive))
		if err := extractArchive(archive, tree); err != nil {
			return err
		}
	}

	failed := 0
	for _, p := range patches {
		data, err := recipe.PatchData(p.File)
		if err != nil {
			return err
		}
		if err := dryRunPatch(tree, data); err != nil {
			colError.Printf("FAIL %s: %v\n", p.File, err)
			failed++
			continue
		}
		colSuccess.Printf("  ok %s\n", p.File)
	}
	if failed > 0 {
		return fmt.Errorf("%d patch(es) no longer apply to %s@%s", failed, recipe.Name, rv.Version)
	}
	return nil
}
