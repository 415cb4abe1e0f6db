package nesopack

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gookit/color"
)

// printHelp prints the commands table
func printHelp() {
	colSuccess.Println("Usage: nesopack <command> [arguments]")
	colSuccess.Println("Run 'nesopack <command>' for advanced options")
	fmt.Println()
	color.Info.Println("Available Commands:")

	type cmdInfo struct {
		Cmd  string
		Args string
		Desc string
	}
	cmds := []cmdInfo{
		{"version, --version", "", "Version information"},
		{"list, ls", "[filter]", "List recipes, optionally filtered by name"},
		{"show, info", "<pkg>", "Show a recipe in full"},
		{"depends", "[--reverse] <pkg>", "Show recipe dependencies or reverse dependencies"},
		{"lint", "", "Validate the whole recipe set"},
		{"resolve", "[--tests] <spec>", "Concretize a spec and print the build order"},
		{"emit", "[-o file] <spec>", "Render the build script for a concretized spec"},
		{"fetch", "<pkg>[@version]", "Download and verify source archives"},
		{"checksum, c", "<pkg>[@version]", "Fetch sources and print/verify checksums"},
		{"verify-patches", "<pkg>[@version]", "Dry-run every patch against an unpacked source tree"},
		{"mirror", "<push|pull> [pkg]", "Push cached sources to the mirror, or pull from it"},
		{"update, u", "[pkg...]", "Check declared versions against upstream releases"},
		{"tui", "", "Interactive recipe browser"},
		{"new, n", "[-here] <pkg>", "Create a new recipe skeleton"},
	}

	// Find the longest usage string to size the first column.
	maxLen := 0
	for _, c := range cmds {
		length := len(c.Cmd) + len(c.Args)
		if c.Args != "" {
			length++
		}
		if length > maxLen {
			maxLen = length
		}
	}
	columnWidth := maxLen + 4

	for _, c := range cmds {
		var usageString string
		if c.Args != "" {
			usageString = fmt.Sprintf("  %s %s", c.Cmd, c.Args)
		} else {
			usageString = fmt.Sprintf("  %s", c.Cmd)
		}

		fmt.Print("  ")
		color.Bold.Print(c.Cmd)
		if c.Args != "" {
			fmt.Print(" ")
			color.Cyan.Print(c.Args)
		}

		pad := columnWidth - len(usageString)
		if pad < 1 {
			pad = 1
		}
		fmt.Print(strings.Repeat(" ", pad))

		color.Info.Println(c.Desc)
	}

	fmt.Println()
}

// Main is the CLI entrypoint for cmd/nesopack.
func Main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		for {
			select {
			case sig := <-sigs:
				colArrow.Print("\n-> ")
				color.Danger.Printf("Received %v. Cancelling process gracefully\n", sig)
				cancel()

				// Give the command a moment to die and flush its buffers
				time.Sleep(100 * time.Millisecond)

				select {
				case <-sigs:
					colArrow.Print("\n-> ")
					color.Danger.Printf("Second interrupt received. Forcing immediate exit.")
					os.Exit(130)
				case <-time.After(2 * time.Second):
					colArrow.Print("\n-> ")
					color.Danger.Printf("Graceful shutdown timeout. Exiting.")
					os.Exit(0)
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	if ctx.Err() != nil {
		return
	}

	if len(os.Args) < 2 {
		printHelp()
		return
	}

	configPath := ConfigFile
	if root := os.Getenv("NESOPACK_ROOT"); root != "" {
		configPath = filepath.Join(root, "etc", "nesopack.conf")
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		cfg = &Config{Values: map[string]string{}}
		mergeEnvOverrides(cfg)
		applyDefaults(cfg)
	}
	applyConfigToGlobals(cfg)

	var exitCode int
	var cmdErr error

	switch os.Args[1] {
	case "version", "--version", "-v":
		fmt.Printf("nesopack %s (%s, built %s)\n", version, arch, buildDate)

	case "list", "ls":
		cmdErr = handleListCommand(os.Args[2:], cfg)

	case "show", "info":
		cmdErr = handleShowCommand(os.Args[2:], cfg)

	case "depends":
		cmdErr = handleDependsCommand(os.Args[2:], cfg)

	case "lint":
		cmdErr = handleLintCommand(cfg)

	case "resolve":
		cmdErr = handleResolveCommand(os.Args[2:], cfg)

	case "emit":
		cmdErr = handleEmitCommand(os.Args[2:], cfg)

	case "fetch":
		cmdErr = handleFetchCommand(ctx, os.Args[2:], cfg)

	case "checksum", "c":
		cmdErr = handleChecksumCommand(ctx, os.Args[2:], cfg)

	case "verify-patches":
		cmdErr = handleVerifyPatchesCommand(os.Args[2:], cfg)

	case "mirror":
		cmdErr = handleMirrorCommand(ctx, os.Args[2:], cfg)

	case "update", "u":
		cmdErr = handleUpdateCommand(ctx, os.Args[2:], cfg)

	case "tui":
		exitCode = runTUI(cfg)

	case "new", "n":
		cmdErr = handleNewCommand(os.Args[2:], cfg)

	case "help", "--help", "-h":
		printHelp()

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		printHelp()
		exitCode = 1
	}

	if cmdErr != nil {
		colArrow.Print("-> ")
		colError.Printf("%v\n", cmdErr)
		exitCode = 1
	}

	cancel()
	os.Exit(exitCode)
}

// handleLintCommand validates every recipe and reports findings.
func handleLintCommand(cfg *Config) error {
	set, err := loadRecipeSet(cfg)
	if err != nil {
		return err
	}
	findings := lintSet(set, resolveOptionsFromConfig(cfg))
	if len(findings) == 0 {
		colArrow.Print("-> ")
		colSuccess.Printf("All %d recipes lint clean\n", len(set.Names()))
		return nil
	}
	for _, f := range findings {
		colArrow.Print("-> ")
		colError.Printf("%s: %s\n", f.Recipe, f.Problem)
	}
	return fmt.Errorf("%d lint finding(s)", len(findings))
}
