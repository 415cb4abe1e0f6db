package nesopack

import (
	"embed"
	"errors"
	"runtime"

	"github.com/gookit/color"
)

// Global variables
var (
	repoPaths  string // colon separated list of on-disk recipe repos
	CacheDir   string
	SourcesDir string
	WorkDir    string
	ConfigFile = "/etc/nesopack.conf"
	Debug      bool
	Verbose    bool
	arch       = runtime.GOARCH
	version    = "dev"     // overridden at build time
	buildDate  = "unknown" // overridden at build time

	errRecipeNotFound  = errors.New("recipe not found")
	errDependencyCycle = errors.New("dependency cycle")

	//go:embed recipes
	embeddedRecipes embed.FS
)

// color helpers
var (
	colInfo    = color.Info // style provided by gookit/color
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
	colNote    = color.Tag("notice")
)

func debugf(format string, args ...interface{}) {
	if Debug {
		color.Gray.Printf("[debug] "+format, args...)
	}
}
