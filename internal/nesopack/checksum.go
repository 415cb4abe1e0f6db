package nesopack

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"lukechampine.com/blake3"
)

func hashFileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashFileBlake3(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// verifyArchive checks a fetched archive against the recipe's declared
// sha256 and maintains a blake3 stamp for cheap cache-integrity checks
// on later runs.
func verifyArchive(archive, wantSHA256 string) error {
	stamp := archive + ".b3"

	if data, err := os.ReadFile(stamp); err == nil {
		got, err := hashFileBlake3(archive)
		if err != nil {
			return err
		}
		if got != string(data) {
			return fmt.Errorf("cache integrity failure for %s: blake3 mismatch", filepath.Base(archive))
		}
	}

	if wantSHA256 != "" {
		got, err := hashFileSHA256(archive)
		if err != nil {
			return err
		}
		if got != wantSHA256 {
			return fmt.Errorf("sha256 mismatch for %s:\n  declared %s\n  computed %s",
				filepath.Base(archive), wantSHA256, got)
		}
	}

	b3, err := hashFileBlake3(archive)
	if err != nil {
		return err
	}
	return os.WriteFile(stamp, []byte(b3), 0o644)
}

// handleChecksumCommand fetches a recipe's sources if needed and
// verifies (or, for new versions, prints) their checksums.
func handleChecksumCommand(ctx context.Context, args []string, cfg *Config) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: nesopack checksum <pkg>")
	}
	set, err := loadRecipeSet(cfg)
	if err != nil {
		return err
	}
	recipe, err := set.Find(args[0])
	if err != nil {
		return err
	}

	checked := 0
	for i := range recipe.Versions {
		rv := &recipe.Versions[i]
		url := recipe.SourceURL(rv)
		if url == "" {
			debugf("skipping git version %s@%s\n", recipe.Name, rv.Version)
			continue
		}
		archive := filepath.Join(SourcesDir, recipe.Name, filepath.Base(url))
		if _, err := os.Stat(archive); err != nil {
			if err := fetchSource(ctx, url, archive); err != nil {
				return fmt.Errorf("fetch %s: %w", url, err)
			}
		}

		if rv.SHA256 == "" {
			got, err := hashFileSHA256(archive)
			if err != nil {
				return err
			}
			colArrow.Print("-> ")
			colNote.Printf("%s@%s has no declared sha256\n", recipe.Name, rv.Version)
			fmt.Printf("    sha256: %s\n", got)
			continue
		}

		if err := verifyArchive(archive, rv.SHA256); err != nil {
			return err
		}
		colSuccess.Printf("  ok %s@%s (%s)\n", recipe.Name, rv.Version, filepath.Base(archive))
		checked++
	}

	if checked == 0 {
		colArrow.Print("-> ")
		colNote.Printf("%s has no checksummed archive versions\n", recipe.Name)
	}
	return nil
}
