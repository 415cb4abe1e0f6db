package nesopack

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

func newHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// Some upstreams (boost mirrors, python.org) are slow to complete the
	// handshake; default 10s is too tight.
	transport.TLSHandshakeTimeout = 30 * time.Second
	return &http.Client{
		Transport: transport,
		Timeout:   300 * time.Second, // 5 min total for large downloads
	}
}

// fetchSource downloads url into dest, holding an exclusive flock so
// concurrent nesopack invocations sharing the cache do not race.
func fetchSource(ctx context.Context, url, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory for %s: %w", dest, err)
	}

	lockPath := dest + ".lock"
	lFile, err := os.Create(lockPath)
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer lFile.Close()

	// Blocks while another process downloads the same file.
	if err := unix.Flock(int(lFile.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock for download: %w", err)
	}
	defer unix.Flock(int(lFile.Fd()), unix.LOCK_UN)

	// Double check under the lock: another process may have finished it.
	if _, err := os.Stat(dest); err == nil {
		debugf("%s appeared after acquiring lock, skipping download\n", dest)
		_ = os.Remove(lockPath)
		return nil
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Downloading %s\n", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := newHTTPClient().Do(req)
	if err != nil {
		return fmt.Errorf("http get failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %s", resp.Status)
	}

	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create destination file %s: %w", tmp, err)
	}

	var w io.Writer = out
	if term.IsTerminal(int(os.Stderr.Fd())) {
		bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(dest))
		w = io.MultiWriter(out, bar)
	}

	_, err = io.Copy(w, resp.Body)
	closeErr := out.Close()
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if closeErr != nil {
		_ = os.Remove(tmp)
		return closeErr
	}
	if err := os.Rename(tmp, dest); err != nil {
		return err
	}
	_ = os.Remove(lockPath)
	return nil
}

// handleFetchCommand downloads the source archives for a recipe (all
// checksummed versions, or the one selected by @version) and verifies
// them.
func handleFetchCommand(ctx context.Context, args []string, cfg *Config) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: nesopack fetch <pkg>[@version]")
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

	fetched := 0
	for i := range recipe.Versions {
		rv := &recipe.Versions[i]
		if !spec.Range.Match(rv.Version) {
			continue
		}
		url := recipe.SourceURL(rv)
		if url == "" {
			debugf("%s@%s is a git checkout, nothing to fetch\n", recipe.Name, rv.Version)
			continue
		}
		dest := filepath.Join(SourcesDir, recipe.Name, filepath.Base(url))
		if _, err := os.Stat(dest); err != nil {
			if err := fetchSource(ctx, url, dest); err != nil {
				return fmt.Errorf("fetch %s: %w", url, err)
			}
		}
		if err := verifyArchive(dest, rv.SHA256); err != nil {
			return err
		}
		fetched++
	}
	if fetched == 0 {
		colArrow.Print("-> ")
		colNote.Printf("Nothing to fetch for %s (git-only versions?)\n", args[0])
		return nil
	}
	colArrow.Print("-> ")
	colSuccess.Printf("%d source archive(s) present and verified for %s\n", fetched, recipe.Name)
	return nil
}
