package nesopack

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

var (
	tuiApp        *tview.Application
	tuiNames      []string
	tuiSet        *RecipeSet
	tuiCfg        *Config
	tuiActiveIdx  int
	tuiShowScript bool
	tuiHeaderBox  *tview.TextView
	tuiDetailView *tview.TextView
	tuiFooterBox  *tview.TextView
	tuiFlex       *tview.Flex
)

// runTUI opens an interactive recipe browser: left/right cycles through
// the recipe set, 's' toggles between the recipe detail and the build
// script it would emit under the default assignment.
func runTUI(cfg *Config) int {
	set, err := loadRecipeSet(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tui:", err)
		return 1
	}
	tuiSet = set
	tuiCfg = cfg
	tuiNames = set.Names()
	tuiActiveIdx = 0
	tuiShowScript = false

	tuiApp = tview.NewApplication()

	tuiHeaderBox = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false).
		SetTextAlign(tview.AlignLeft)
	tuiHeaderBox.SetBorder(true)
	tuiHeaderBox.SetTitle("nesopack Recipe Browser")

	tuiDetailView = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false).
		SetScrollable(true).
		SetChangedFunc(func() {
			tuiApp.Draw()
		})
	tuiDetailView.SetBorder(true)

	tuiFooterBox = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(true).
		SetTextAlign(tview.AlignLeft)
	tuiFooterBox.SetBorder(true)

	tuiFlex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(tuiHeaderBox, 3, 0, false).
		AddItem(tuiDetailView, 0, 1, true).
		AddItem(tuiFooterBox, 4, 0, false)

	tuiFlex.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		key := event.Key()
		r := event.Rune()

		switch key {
		case tcell.KeyCtrlQ, tcell.KeyEsc:
			tuiApp.Stop()
			return nil
		case tcell.KeyLeft:
			tuiPrevRecipe()
			return nil
		case tcell.KeyRight:
			tuiNextRecipe()
			return nil
		case tcell.KeyHome:
			tuiDetailView.ScrollToBeginning()
			return nil
		case tcell.KeyEnd:
			tuiDetailView.ScrollToEnd()
			return nil
		case tcell.KeyUp:
			row, _ := tuiDetailView.GetScrollOffset()
			if row > 0 {
				tuiDetailView.ScrollTo(row-1, 0)
			}
			return nil
		case tcell.KeyDown:
			row, _ := tuiDetailView.GetScrollOffset()
			tuiDetailView.ScrollTo(row+1, 0)
			return nil
		case tcell.KeyPgUp:
			row, _ := tuiDetailView.GetScrollOffset()
			if row > 10 {
				tuiDetailView.ScrollTo(row-10, 0)
			} else {
				tuiDetailView.ScrollToBeginning()
			}
			return nil
		case tcell.KeyPgDn:
			row, _ := tuiDetailView.GetScrollOffset()
			tuiDetailView.ScrollTo(row+10, 0)
			return nil
		case tcell.KeyRune:
			switch r {
			case 'q':
				tuiApp.Stop()
				return nil
			case 'h':
				tuiPrevRecipe()
				return nil
			case 'l':
				tuiNextRecipe()
				return nil
			case 's':
				tuiShowScript = !tuiShowScript
				updateTUI()
				return nil
			case 'e':
				if tuiActiveIdx < len(tuiNames) {
					r, err := tuiSet.Find(tuiNames[tuiActiveIdx])
					if err == nil && r.dir != "" {
						editor := os.Getenv("EDITOR")
						if editor == "" {
							editor = "nano"
						}
						cmd := exec.Command(editor, r.dir+"/recipe.yaml")
						_ = cmd.Start()
					}
				}
				return nil
			}
		}
		return event
	})

	tuiApp.SetRoot(tuiFlex, true).SetFocus(tuiDetailView)
	updateTUI()

	if err := tuiApp.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "tui:", err)
		return 1
	}
	return 0
}

func tuiPrevRecipe() {
	if len(tuiNames) == 0 {
		return
	}
	tuiActiveIdx--
	if tuiActiveIdx < 0 {
		tuiActiveIdx = len(tuiNames) - 1
	}
	updateTUI()
	tuiDetailView.ScrollToBeginning()
}

func tuiNextRecipe() {
	if len(tuiNames) == 0 {
		return
	}
	tuiActiveIdx++
	if tuiActiveIdx >= len(tuiNames) {
		tuiActiveIdx = 0
	}
	updateTUI()
	tuiDetailView.ScrollToBeginning()
}

func updateTUI() {
	if tuiApp == nil || tuiHeaderBox == nil || tuiDetailView == nil || tuiFooterBox == nil {
		return
	}

	if len(tuiNames) == 0 {
		tuiHeaderBox.SetText("[gray]No recipes found[white]")
		tuiDetailView.SetText("The recipe set is empty.")
		tuiFooterBox.SetText("[gray]Press 'q' or Ctrl+Q to quit[white]")
		return
	}

	name := tuiNames[tuiActiveIdx]
	mode := "detail"
	if tuiShowScript {
		mode = "build script"
	}
	tuiHeaderBox.SetText(fmt.Sprintf("[gray]Recipe %d/%d: %s (%s)[white]",
		tuiActiveIdx+1, len(tuiNames), name, mode))

	recipe, err := tuiSet.Find(name)
	if err != nil {
		tuiDetailView.SetText(fmt.Sprintf("failed to load %s: %v", name, err))
		return
	}

	var text string
	if tuiShowScript {
		text = tuiBuildScript(recipe)
	} else {
		text = tuiRecipeDetail(recipe)
	}
	tuiDetailView.Clear()
	tuiDetailView.SetText(text)

	footer := strings.Join([]string{
		"Press 'q' or Ctrl+Q to quit",
		"← → (or h/l) to switch recipes",
		"↑ ↓ to scroll",
		"'s' to toggle build script",
		"'e' to edit recipe",
	}, " | ")
	tuiFooterBox.SetText(fmt.Sprintf("[gray]%s[white]", footer))
}

func tuiRecipeDetail(r *Recipe) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[yellow]%s[white]\n", r.Name)
	if r.Description != "" {
		fmt.Fprintf(&b, "  %s\n", r.Description)
	}
	if r.Homepage != "" {
		fmt.Fprintf(&b, "  homepage: %s\n", r.Homepage)
	}
	fmt.Fprintf(&b, "  build:    %s\n", r.Build)
	if len(r.Provides) > 0 {
		fmt.Fprintf(&b, "  provides: %s\n", strings.Join(r.Provides, ", "))
	}

	b.WriteString("\n[yellow]versions[white]\n")
	for _, rv := range r.Versions {
		line := "  " + rv.Version
		switch {
		case rv.SHA256 != "":
			line += "  sha256=" + rv.SHA256
		case rv.Commit != "":
			line += "  commit=" + rv.Commit
		case rv.Branch != "":
			line += "  branch=" + rv.Branch
		}
		if rv.Preferred {
			line += "  (preferred)"
		}
		b.WriteString(line + "\n")
	}

	if len(r.Variants) > 0 {
		b.WriteString("\n[yellow]variants[white]\n")
		for _, v := range r.Variants {
			if v.IsBool() {
				fmt.Fprintf(&b, "  %-14s default=%-8s %s\n", v.Name, v.Default, v.Description)
			} else {
				fmt.Fprintf(&b, "  %-14s default=%-8s [%s]  %s\n", v.Name, v.Default,
					strings.Join(v.Values, "|"), v.Description)
			}
		}
	}

	if len(r.Depends) > 0 {
		b.WriteString("\n[yellow]depends[white]\n")
		for _, d := range r.Depends {
			line := "  " + d.Spec
			if d.When != "" {
				line += "  when: " + d.When
			}
			if len(d.Type) > 0 {
				line += "  (" + strings.Join(d.Type, ",") + ")"
			}
			b.WriteString(line + "\n")
		}
	}

	if len(r.Conflicts) > 0 {
		b.WriteString("\n[yellow]conflicts[white]\n")
		for _, c := range r.Conflicts {
			line := "  " + c.Spec
			if c.When != "" {
				line += "  when: " + c.When
			}
			if c.Msg != "" {
				line += "  (" + c.Msg + ")"
			}
			b.WriteString(line + "\n")
		}
	}

	if len(r.Patches) > 0 {
		b.WriteString("\n[yellow]patches[white]\n")
		for _, p := range r.Patches {
			line := "  " + p.File
			if p.When != "" {
				line += "  when: " + p.When
			}
			b.WriteString(line + "\n")
		}
	}
	return b.String()
}

func tuiBuildScript(r *Recipe) string {
	spec := &Spec{Name: r.Name}
	plan, err := Resolve(tuiSet, spec, resolveOptionsFromConfig(tuiCfg))
	if err != nil {
		return fmt.Sprintf("cannot concretize %s: %v", r.Name, err)
	}
	var b strings.Builder
	if err := emitBuildScript(&b, plan.Root); err != nil {
		return fmt.Sprintf("cannot render build script for %s: %v", r.Name, err)
	}
	return b.String()
}
