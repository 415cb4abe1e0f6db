package nesopack

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// colorPrinter is the subset of gookit/color styles the prompts need.
type colorPrinter interface {
	Printf(format string, a ...any)
	Println(a ...any)
}

// interactiveMu ensures only one interactive prompt reads stdin at a time.
var interactiveMu sync.Mutex

func cPrintf(p colorPrinter, format string, a ...any) {
	if p == nil {
		fmt.Printf(format, a...)
		return
	}
	p.Printf(format, a...)
}

func cPrintln(p colorPrinter, a ...any) {
	if p == nil {
		fmt.Println(a...)
		return
	}
	p.Println(a...)
}

// isInteractive reports whether stdin is a terminal; prompts default to
// "no" when it is not, so CI runs never hang.
func isInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func askForConfirmation(p colorPrinter, format string, a ...any) bool {
	if !isInteractive() {
		return false
	}

	interactiveMu.Lock()
	defer interactiveMu.Unlock()

	reader := bufio.NewReader(os.Stdin)
	fullPrompt := fmt.Sprintf("%s [y/N]: ", fmt.Sprintf(format, a...))

	for {
		cPrintf(p, "%s", fullPrompt)
		response, err := reader.ReadString('\n')
		if err != nil {
			return false // On error (like Ctrl+D), default to "no"
		}
		response = strings.ToLower(strings.TrimSpace(response))

		if response == "y" || response == "yes" {
			return true
		}
		if response == "n" || response == "no" || response == "" {
			return false
		}
		cPrintln(colWarn, "Invalid input.")
	}
}
