package nesopack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// githubRepoPattern extracts owner/repo from homepage or git URLs.
var githubRepoPattern = regexp.MustCompile(`github\.com[/:]([^/]+)/([^/.\s]+)`)

// pythonReleasePattern matches version directories in the python.org
// FTP index listing.
var pythonReleasePattern = regexp.MustCompile(`href="(\d+(?:\.\d+)+)/"`)

const pythonReleaseIndex = "https://www.python.org/ftp/python/"

type githubTag struct {
	Name string `json:"name"`
}

// fetchUpstreamTags lists release versions for a recipe hosted on GitHub
// or python.org. Returns nil when the recipe has no queryable upstream.
func fetchUpstreamTags(ctx context.Context, r *Recipe) ([]string, error) {
	source := r.Git
	if source == "" {
		source = r.Homepage
	}
	if strings.Contains(source, "python.org") || strings.Contains(r.URL, "python.org") {
		return fetchPythonVersions(ctx)
	}
	m := githubRepoPattern.FindStringSubmatch(source)
	if m == nil {
		return nil, nil
	}

	url := fmt.Sprintf("https://api.github.com/repos/%s/%s/tags?per_page=50", m[1], m[2])
	client := &http.Client{Timeout: 30 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github tags query failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github tags query failed with status: %s", resp.Status)
	}

	var tags []githubTag
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("github tags decode failed: %w", err)
	}

	versions := make([]string, 0, len(tags))
	for _, t := range tags {
		v := strings.TrimPrefix(t.Name, "v")
		// Nektar++ tags releases as "nektar-X.Y.Z" style occasionally.
		if idx := strings.LastIndexByte(v, '-'); idx >= 0 && isNumericVersion(v[idx+1:]) && !isNumericVersion(v) {
			v = v[idx+1:]
		}
		if isNumericVersion(v) {
			versions = append(versions, v)
		}
	}
	return versions, nil
}

// fetchPythonVersions scrapes release directories from the python.org
// FTP index, the canonical listing for CPython tarballs.
func fetchPythonVersions(ctx context.Context) ([]string, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pythonReleaseIndex, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("python.org index query failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("python.org index query failed with status: %s", resp.Status)
	}
	page, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return parsePythonIndex(page), nil
}

func parsePythonIndex(page []byte) []string {
	var versions []string
	for _, m := range pythonReleasePattern.FindAllSubmatch(page, -1) {
		versions = append(versions, string(m[1]))
	}
	return versions
}

// newestDeclared returns the highest numeric version a recipe declares.
func newestDeclared(r *Recipe) string {
	newest := ""
	for _, rv := range r.Versions {
		if !isNumericVersion(rv.Version) {
			continue
		}
		if newest == "" || compareVersions(rv.Version, newest) > 0 {
			newest = rv.Version
		}
	}
	return newest
}

// handleUpdateCommand compares declared versions against upstream tags
// and reports recipes that have fallen behind. Patch 'when' ranges are
// the usual casualty of a version bump, so verify-patches after bumping.
func handleUpdateCommand(ctx context.Context, args []string, cfg *Config) error {
	set, err := loadRecipeSet(cfg)
	if err != nil {
		return err
	}

	names := set.Names()
	if len(args) > 0 {
		names = args
	}

	behind := 0
	for _, name := range names {
		r, err := set.Find(name)
		if err != nil {
			return err
		}
		newest := newestDeclared(r)
		if newest == "" {
			debugf("%s tracks branches only, skipping\n", name)
			continue
		}
		tags, err := fetchUpstreamTags(ctx, r)
		if err != nil {
			colWarn.Printf("%s: %v\n", name, err)
			continue
		}
		if tags == nil {
			debugf("%s has no queryable upstream\n", name)
			continue
		}

		var newer []string
		for _, tag := range tags {
			if compareVersions(tag, newest) > 0 {
				newer = append(newer, tag)
			}
		}
		if len(newer) > 0 {
			colArrow.Print("-> ")
			colNote.Printf("%s: declared %s, upstream has %s\n", name, newest, strings.Join(newer, ", "))
			behind++
		} else if Verbose {
			colSuccess.Printf("  ok %s (%s is current)\n", name, newest)
		}
	}

	colArrow.Print("-> ")
	if behind == 0 {
		colSuccess.Println("All recipes current with upstream")
	} else {
		colSuccess.Printf("%d recipe(s) behind upstream\n", behind)
	}
	return nil
}
