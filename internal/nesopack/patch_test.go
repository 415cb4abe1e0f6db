package nesopack

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openmpCmakeUpstream is the stretch of cmake/ThirdPartyOpenMP.cmake the
// nektar OpenMP patches expect, as shipped in the 5.0.0 tarball.
const openmpCmakeUpstream = `# OpenMP third-party configuration
#
OPTION(NEKTAR_USE_OPENMP "Use OpenMP for parallelisation" OFF)

IF(NEKTAR_USE_OPENMP)
    FIND_PACKAGE(OpenMP)
    IF(OPENMP_FOUND)
        SET(CMAKE_CXX_FLAGS "${CMAKE_CXX_FLAGS} ${OpenMP_CXX_FLAGS}")
        SET(CMAKE_C_FLAGS "${CMAKE_C_FLAGS} ${OpenMP_C_FLAGS}")
    ENDIF()
ENDIF()
`

func TestParseEmbeddedPatches(t *testing.T) {
	set := loadEmbeddedSet(t)

	cases := map[string][]string{
		"nektar": {
			"nektar-5.0.0-openmp-clang.patch",
			"nektar-5.2.0-openmp-clang.patch",
			"nektar-5.2.0-cmake-extra-libs.patch",
		},
		"adaptivecpp": {"allow-disable-find-cuda-23.10.0.patch"},
		"stdpython": {
			"tkinter-3.8.patch",
			"cray-rpath-3.1.patch",
			"fj-rpath-3.1.patch",
			"python-3.8-distutils-C++.patch",
		},
	}
	for recipeName, patches := range cases {
		r, err := set.Find(recipeName)
		require.NoError(t, err)
		for _, file := range patches {
			data, err := r.PatchData(file)
			require.NoError(t, err, "%s/%s", recipeName, file)
			files, err := parsePatch(data)
			require.NoError(t, err, "%s/%s", recipeName, file)
			assert.NotEmpty(t, files, "%s/%s", recipeName, file)
		}
	}
}

func TestPatchFileNameStripsDiffPrefix(t *testing.T) {
	set := loadEmbeddedSet(t)
	nektar, err := set.Find("nektar")
	require.NoError(t, err)
	data, err := nektar.PatchData("nektar-5.0.0-openmp-clang.patch")
	require.NoError(t, err)

	files, err := parsePatch(data)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "cmake/ThirdPartyOpenMP.cmake", patchFileName(files[0]),
		"a/ and b/ prefixes must not leak into tree paths")
}

func TestParsePatchRejectsJunk(t *testing.T) {
	_, err := parsePatch([]byte("not a diff at all\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no file diffs")

	_, err = parsePatch(nil)
	assert.Error(t, err)
}

func TestDryRunPatchApplies(t *testing.T) {
	set := loadEmbeddedSet(t)
	nektar, err := set.Find("nektar")
	require.NoError(t, err)
	data, err := nektar.PatchData("nektar-5.0.0-openmp-clang.patch")
	require.NoError(t, err)

	tree := t.TempDir()
	target := filepath.Join(tree, "cmake", "ThirdPartyOpenMP.cmake")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
	require.NoError(t, os.WriteFile(target, []byte(openmpCmakeUpstream), 0o644))

	assert.NoError(t, dryRunPatch(tree, data))

	// A dry run never modifies the tree.
	after, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, openmpCmakeUpstream, string(after))
}

func TestDryRunPatchDetectsDrift(t *testing.T) {
	set := loadEmbeddedSet(t)
	nektar, err := set.Find("nektar")
	require.NoError(t, err)
	data, err := nektar.PatchData("nektar-5.0.0-openmp-clang.patch")
	require.NoError(t, err)

	tree := t.TempDir()
	target := filepath.Join(tree, "cmake", "ThirdPartyOpenMP.cmake")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))

	// Upstream moved on: the context the patch expects is gone.
	drifted := "# rewritten file\nnothing the patch recognises\n"
	require.NoError(t, os.WriteFile(target, []byte(drifted), 0o644))
	err = dryRunPatch(tree, data)
	require.Error(t, err)

	// The failure must come from hunk application, not from a mangled
	// target path.
	assert.NotContains(t, err.Error(), "patch target missing")
	assert.Contains(t, err.Error(), "cmake/ThirdPartyOpenMP.cmake")
}

func TestDryRunPatchMissingTarget(t *testing.T) {
	set := loadEmbeddedSet(t)
	nektar, err := set.Find("nektar")
	require.NoError(t, err)
	data, err := nektar.PatchData("nektar-5.0.0-openmp-clang.patch")
	require.NoError(t, err)

	err = dryRunPatch(t.TempDir(), data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "patch target missing: cmake/ThirdPartyOpenMP.cmake")
}

func TestMatchingPatchesVersionGate(t *testing.T) {
	set := loadEmbeddedSet(t)
	nektar, err := set.Find("nektar")
	require.NoError(t, err)

	assign := defaultAssignment(nektar)
	assign.Version = "5.0.0"
	patches, err := matchingPatches(nektar, assign)
	require.NoError(t, err)
	require.Len(t, patches, 1)
	assert.Equal(t, "nektar-5.0.0-openmp-clang.patch", patches[0].File)

	assign.Version = "5.2.0"
	patches, err = matchingPatches(nektar, assign)
	require.NoError(t, err)
	require.Len(t, patches, 2)
	assert.Equal(t, "nektar-5.2.0-openmp-clang.patch", patches[0].File)
	assert.Equal(t, "nektar-5.2.0-cmake-extra-libs.patch", patches[1].File)
}
