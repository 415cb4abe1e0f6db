package nesopack

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loadEmbeddedSet loads the recipe set without any on-disk overlay.
func loadEmbeddedSet(t *testing.T) *RecipeSet {
	t.Helper()
	old := repoPaths
	repoPaths = ""
	t.Cleanup(func() { repoPaths = old })

	set, err := loadRecipeSet(&Config{Values: map[string]string{}})
	require.NoError(t, err)
	return set
}

func TestEmbeddedSetLoads(t *testing.T) {
	set := loadEmbeddedSet(t)

	for _, name := range []string{
		"neso", "nektar", "neso-particles", "neso-rng-toolkit",
		"hipsycl", "adaptivecpp", "dpcpp",
		"stdpython", "py-boututils", "py-func-timeout",
		"py-optionsfactory", "py-hypnotoad", "py-neso-fame",
		"nvhpc-transitive", "cmake-moved-build",
	} {
		_, err := set.Find(name)
		assert.NoError(t, err, "embedded recipe %s", name)
	}

	assert.ElementsMatch(t, []string{"adaptivecpp", "dpcpp", "hipsycl"}, set.Providers("sycl"))
	assert.True(t, set.IsVirtual("sycl"))
	assert.False(t, set.IsVirtual("nektar"))

	_, err := set.Find("no-such-recipe")
	assert.ErrorIs(t, err, errRecipeNotFound)
}

func TestNektarRecipeFields(t *testing.T) {
	set := loadEmbeddedSet(t)
	r, err := set.Find("nektar")
	require.NoError(t, err)

	assert.Equal(t, "cmake", r.Build)
	require.NotNil(t, r.VersionNamed("5.2.0"))
	assert.Equal(t,
		"3242ac2e14dfa0193bc3141b1eac0177be27d9ba418b764449fa051ed9c3eed0",
		r.VersionNamed("5.2.0").SHA256)

	mpi := r.Variant("mpi")
	require.NotNil(t, mpi)
	assert.True(t, mpi.IsBool())
	assert.Equal(t, "true", mpi.Default)
	assert.Nil(t, r.Variant("nonexistent"))

	assert.Len(t, r.Patches, 3)
}

func TestPickVersionPreferredWins(t *testing.T) {
	set := loadEmbeddedSet(t)
	r, err := set.Find("stdpython")
	require.NoError(t, err)

	// 3.9.7 is newer, but 3.8.12 is marked preferred.
	rv, err := r.PickVersion(VersionRange{})
	require.NoError(t, err)
	assert.Equal(t, "3.8.12", rv.Version)

	// An explicit range overrides the preference.
	rv, err = r.PickVersion(mustRange(t, "3.9:"))
	require.NoError(t, err)
	assert.Equal(t, "3.9.7", rv.Version)

	_, err = r.PickVersion(mustRange(t, "4:"))
	assert.Error(t, err)
}

func TestPickVersionNumericOverBranch(t *testing.T) {
	set := loadEmbeddedSet(t)
	r, err := set.Find("hipsycl")
	require.NoError(t, err)

	rv, err := r.PickVersion(VersionRange{})
	require.NoError(t, err)
	assert.Equal(t, "0.9.4", rv.Version, "numeric releases beat the stable branch")
}

func TestSourceURL(t *testing.T) {
	set := loadEmbeddedSet(t)

	nektar, err := set.Find("nektar")
	require.NoError(t, err)
	assert.Equal(t,
		"https://www.nektar.info/src/nektar++-5.2.0.tar.bz2",
		nektar.SourceURL(nektar.VersionNamed("5.2.0")))

	// Branch and commit versions are cloned, not downloaded.
	neso, err := set.Find("neso")
	require.NoError(t, err)
	assert.Empty(t, neso.SourceURL(neso.VersionNamed("main")))
}

func TestParseRecipeRejectsUnknownFields(t *testing.T) {
	_, err := parseRecipe([]byte("name: x\nbuild: cmake\nbogus_key: 1\nversions:\n  - version: \"1.0\"\n"))
	assert.Error(t, err)

	_, err = parseRecipe([]byte("description: nameless\nversions:\n  - version: \"1.0\"\n"))
	assert.Error(t, err)

	_, err = parseRecipe([]byte("name: x\nbuild: cmake\n"))
	assert.Error(t, err, "a recipe must declare versions")
}

func TestDiskRepoOverridesEmbedded(t *testing.T) {
	repo := t.TempDir()
	dir := filepath.Join(repo, "nektar")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "recipe.yaml"), []byte(`name: nektar
build: cmake
url: https://example.invalid/nektar-{version}.tar.gz
versions:
  - version: "9.9.9"
    sha256: "0000000000000000000000000000000000000000000000000000000000000000"
`), 0o644))

	old := repoPaths
	repoPaths = repo
	t.Cleanup(func() { repoPaths = old })

	set, err := loadRecipeSet(&Config{Values: map[string]string{}})
	require.NoError(t, err)

	r, err := set.Find("nektar")
	require.NoError(t, err)
	assert.Equal(t, dir, r.dir)
	require.Len(t, r.Versions, 1)
	assert.Equal(t, "9.9.9", r.Versions[0].Version)
}

func TestPatchDataRejectsPathEscape(t *testing.T) {
	set := loadEmbeddedSet(t)
	r, err := set.Find("nektar")
	require.NoError(t, err)

	_, err = r.PatchData("../neso/recipe.yaml")
	assert.Error(t, err)

	data, err := r.PatchData("nektar-5.2.0-openmp-clang.patch")
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func mustRange(t *testing.T, s string) VersionRange {
	t.Helper()
	r, err := ParseVersionRange(s)
	require.NoError(t, err)
	return r
}
