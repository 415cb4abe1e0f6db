package nesopack

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

func runEditor(editor string, files ...string) error {
	if len(files) == 0 {
		return nil
	}
	cmd := exec.Command(editor, files...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

const recipeSkeleton = `name: %s
description: ""
homepage: ""
build: cmake
url: ""
versions:
  - version: "0.0.1"
    sha256: ""
variants: []
depends: []
`

// newRecipe scaffolds a recipe directory in the first on-disk repo from
// NESOPACK_PATH (or targetDir when -here is used).
func newRecipe(pkgName string, targetDir string) error {
	var pkgDir string
	if targetDir != "" {
		pkgDir = filepath.Join(targetDir, pkgName)
	} else {
		paths := filepath.SplitList(repoPaths)
		if len(paths) == 0 || paths[0] == "" {
			return fmt.Errorf("NESOPACK_PATH is not set; use 'new -here %s' to scaffold in the current directory", pkgName)
		}
		pkgDir = filepath.Join(paths[0], pkgName)
	}

	// Don't overwrite an existing recipe dir.
	if fi, err := os.Stat(pkgDir); err == nil {
		if fi.IsDir() {
			return fmt.Errorf("recipe %s already exists at %s", pkgName, pkgDir)
		}
		return fmt.Errorf("path %s exists and is not a directory", pkgDir)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat path %s: %w", pkgDir, err)
	}

	if err := os.MkdirAll(pkgDir, 0o755); err != nil {
		return fmt.Errorf("failed to create recipe directory %s: %w", pkgDir, err)
	}

	recipePath := filepath.Join(pkgDir, "recipe.yaml")
	if err := os.WriteFile(recipePath, []byte(fmt.Sprintf(recipeSkeleton, pkgName)), 0o644); err != nil {
		return fmt.Errorf("failed to create recipe file: %w", err)
	}

	cPrintf(colInfo, "=> Recipe %s created in %s.\n", pkgName, pkgDir)

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor != "" && isInteractive() {
		if err := runEditor(editor, recipePath); err != nil {
			return fmt.Errorf("editor failed for recipe file: %v", err)
		}
	}
	return nil
}

func handleNewCommand(args []string, cfg *Config) error {
	targetDir := ""
	var pkgName string
	for _, arg := range args {
		if arg == "-here" || arg == "--here" {
			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			targetDir = wd
		} else {
			pkgName = arg
		}
	}
	if pkgName == "" {
		return fmt.Errorf("usage: nesopack new [-here] <pkg>")
	}
	return newRecipe(pkgName, targetDir)
}
