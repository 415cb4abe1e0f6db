package nesopack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSpecFull(t *testing.T) {
	s, err := ParseSpec("nektar@5.0.0:5.2.0 +mpi~hdf5 fft=mkl %gcc@9: ^llvm build_type=Debug")
	require.NoError(t, err)

	assert.Equal(t, "nektar", s.Name)
	assert.Equal(t, "5.0.0:5.2.0", s.Range.String())
	assert.Equal(t, "true", s.Variants["mpi"])
	assert.Equal(t, "false", s.Variants["hdf5"])
	assert.Equal(t, "mkl", s.Variants["fft"])

	require.NotNil(t, s.Compiler)
	assert.Equal(t, "gcc", s.Compiler.Name)
	assert.True(t, s.Compiler.Range.Match("9.4.0"))
	assert.False(t, s.Compiler.Range.Match("8.5.0"))

	require.Len(t, s.Deps, 1)
	assert.Equal(t, "llvm", s.Deps[0].Name)
	assert.Equal(t, "Debug", s.Deps[0].Variants["build_type"])
}

func TestParseSpecConcatenated(t *testing.T) {
	s, err := ParseSpec("boost@1.60.0:+filesystem+fiber~python cxxstd=17")
	require.NoError(t, err)
	assert.Equal(t, "boost", s.Name)
	assert.Equal(t, "true", s.Variants["filesystem"])
	assert.Equal(t, "true", s.Variants["fiber"])
	assert.Equal(t, "false", s.Variants["python"])
	assert.Equal(t, "17", s.Variants["cxxstd"])
}

func TestParseSpecAnonymous(t *testing.T) {
	s, err := ParseSpec("+mpi ~hdf5")
	require.NoError(t, err)
	assert.Empty(t, s.Name)
	assert.Equal(t, "true", s.Variants["mpi"])

	empty, err := ParseSpec("")
	require.NoError(t, err)
	assert.True(t, empty.Satisfies(&Assignment{Name: "anything"}))
}

func TestParseSpecErrors(t *testing.T) {
	for _, bad := range []string{
		"pkg +",
		"pkg ~",
		"pkg %",
		"pkg ^",
		"pkg other",
		"pkg flavour=",
	} {
		_, err := ParseSpec(bad)
		assert.Error(t, err, "spec %q should not parse", bad)
	}
}

func TestVersionRangeMatch(t *testing.T) {
	cases := []struct {
		rng, version string
		want         bool
	}{
		{"3", "3.9.7", true},     // prefix semantics
		{"3.8", "3.8.12", true},  // prefix semantics
		{"3.8", "3.9.0", false},
		{":3", "3.9.7", true},    // inclusive upper prefix
		{":3", "4.0.0", false},
		{"3.7:", "3.6.9", false},
		{"3.7:", "3.7.0", true},
		{"1.2:3.4", "2.0", true},
		{"1.2:3.4", "3.4.1", true},
		{"1.2:3.4", "3.5", false},
		{"0.3.0:0.3.4,0.3.5.2:0", "0.3.2", true},
		{"0.3.0:0.3.4,0.3.5.2:0", "0.3.5", false},
		{"0.3.0:0.3.4,0.3.5.2:0", "0.3.6", true},
		{"5.2.0", "5.2.0", true},
		{"5.2.0", "5.2.1", false},
	}
	for _, c := range cases {
		r, err := ParseVersionRange(c.rng)
		require.NoError(t, err, c.rng)
		assert.Equal(t, c.want, r.Match(c.version), "@%s vs %s", c.rng, c.version)
	}
}

func TestCompareVersions(t *testing.T) {
	assert.Equal(t, -1, compareVersions("5.0.0", "5.2.0"))
	assert.Equal(t, 1, compareVersions("0.1.10", "0.1.7"))
	assert.Equal(t, 0, compareVersions("1.0", "1.0.0"))
	// Branch names fall back to string comparison against digits.
	assert.Equal(t, 1, compareVersions("stable", "0.9.4"))
	assert.False(t, isNumericVersion("main"))
	assert.True(t, isNumericVersion("5.2.0"))
}

func TestSatisfiesVariantsAndCompiler(t *testing.T) {
	a := &Assignment{
		Name:     "nektar",
		Version:  "5.2.0",
		Variants: map[string]string{"mpi": "true", "hdf5": "false"},
		Compiler: "gcc@12.2.0",
		Platform: "linux",
	}

	assert.True(t, MustParseSpec("nektar@5.2.0 +mpi ~hdf5").Satisfies(a))
	assert.True(t, MustParseSpec("+mpi").Satisfies(a))
	assert.True(t, MustParseSpec("%gcc@9:").Satisfies(a))
	assert.True(t, MustParseSpec("platform=linux").Satisfies(a))
	assert.False(t, MustParseSpec("platform=darwin").Satisfies(a))
	assert.False(t, MustParseSpec("nektar +hdf5").Satisfies(a))
	assert.False(t, MustParseSpec("nektar@5.0.0").Satisfies(a))
	assert.False(t, MustParseSpec("%clang").Satisfies(a))
	assert.False(t, MustParseSpec("%gcc@:8").Satisfies(a))
	assert.False(t, MustParseSpec("other").Satisfies(a))
}

func TestSatisfiesDependencyClauses(t *testing.T) {
	python := &Assignment{Name: "python", Version: "3.8.12", Variants: map[string]string{}}
	a := &Assignment{
		Name:     "py-boututils",
		Version:  "0.1.10",
		Variants: map[string]string{},
		Deps:     map[string]*Assignment{"python": python},
	}

	assert.True(t, MustParseSpec("^python@3.8:").Satisfies(a))
	assert.False(t, MustParseSpec("^python@:3.7").Satisfies(a))
	assert.False(t, MustParseSpec("^numpy").Satisfies(a))
}

func TestSatisfiesVersionlessExternal(t *testing.T) {
	// Externals carry no concrete version, so any version constraint on
	// them must be treated as unmet rather than trivially satisfied.
	ext := &Assignment{Name: "python", Variants: map[string]string{}}
	assert.False(t, MustParseSpec("python@:3.7").Satisfies(ext))
	assert.False(t, MustParseSpec("python@3:").Satisfies(ext))
	assert.True(t, MustParseSpec("python").Satisfies(ext))
}

func TestSpecString(t *testing.T) {
	s := MustParseSpec("neso@main fft=mkl +coverage %gcc@12 ^nektar +python")
	out := s.String()
	assert.Contains(t, out, "neso@main")
	assert.Contains(t, out, "+coverage")
	assert.Contains(t, out, "fft=mkl")
	assert.Contains(t, out, "%gcc@12")
	assert.Contains(t, out, "^nektar +python")

	// Round trip: the rendered form parses back to the same constraints.
	again := MustParseSpec(out)
	assert.Equal(t, s.Name, again.Name)
	assert.Equal(t, s.Variants, again.Variants)
	require.Len(t, again.Deps, 1)
	assert.Equal(t, "nektar", again.Deps[0].Name)
}
