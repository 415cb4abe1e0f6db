package nesopack

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func emitForSpec(t *testing.T, spec string, opts ResolveOptions) string {
	t.Helper()
	set := loadEmbeddedSet(t)
	plan, err := Resolve(set, MustParseSpec(spec), opts)
	require.NoError(t, err)
	var b strings.Builder
	require.NoError(t, emitBuildScript(&b, plan.Root))
	return b.String()
}

func TestEmitCMakeScript(t *testing.T) {
	script := emitForSpec(t, "nektar@5.2.0 ~fftw", testResolveOpts())

	assert.Contains(t, script, "# nektar@5.2.0")
	assert.Contains(t, script, "# compiler: %gcc@12.2.0")
	assert.Contains(t, script, "set -e")

	// Patches come before the build, in declaration order.
	assert.Contains(t, script, `patch -p1 < "${RECIPE_DIR}/nektar-5.2.0-openmp-clang.patch"`)
	assert.Contains(t, script, `patch -p1 < "${RECIPE_DIR}/nektar-5.2.0-cmake-extra-libs.patch"`)
	assert.NotContains(t, script, "nektar-5.0.0-openmp-clang.patch")
	assert.Less(t,
		strings.Index(script, "patch -p1"), strings.Index(script, "cmake -S . -B build"))

	assert.Contains(t, script, `-DCMAKE_INSTALL_PREFIX="${PREFIX}"`)
	assert.Contains(t, script, "-DNEKTAR_USE_MPI=ON")
	assert.Contains(t, script, "-DNEKTAR_USE_FFTW=OFF")
	assert.NotContains(t, script, "-DNEKTAR_USE_FFTW=ON")
	assert.Contains(t, script, "-DNEKTAR_USE_PETSC=OFF")
	assert.Contains(t, script, "cmake --install build")
}

func TestEmitAutotoolsScript(t *testing.T) {
	script := emitForSpec(t, "stdpython +optimizations", testResolveOpts())

	assert.Contains(t, script, "# stdpython@3.8.12")
	assert.Contains(t, script, `./configure --prefix="${PREFIX}"`)
	assert.Contains(t, script, "--enable-shared")
	assert.Contains(t, script, "--enable-optimizations")
	assert.Contains(t, script, "--without-ensurepip")
	assert.NotContains(t, script, "--with-pydebug")

	// {prefix:dep} expands to the dependency's prefix variable.
	assert.Contains(t, script, "--with-openssl=${PREFIX_OPENSSL}")

	// tkinter is off by default, so its disabling patch applies.
	assert.Contains(t, script, "tkinter-3.8.patch")
	assert.Contains(t, script, "python-3.8-distutils-C++.patch")
	assert.NotContains(t, script, "cray-rpath-3.1.patch")

	assert.Contains(t, script, "make install")
}

func TestEmitPipScriptWithPre(t *testing.T) {
	script := emitForSpec(t, "py-hypnotoad", testResolveOpts())

	assert.Contains(t, script, `python3 -m pip install . --prefix="${PREFIX}" --no-build-isolation`)
	// Pre lines run before the install step.
	assert.Contains(t, script, `python3 -m pip install --upgrade "setuptools>=65"`)
	assert.Less(t,
		strings.Index(script, "--upgrade"),
		strings.Index(script, "--no-build-isolation"))
}

func TestEmitBundleScriptEnv(t *testing.T) {
	opts := testResolveOpts()
	opts.Compiler = ""
	script := emitForSpec(t, "dpcpp", opts)

	assert.Contains(t, script, "# bundle package: no build step, environment setup only")
	assert.Contains(t, script, "export ONEAPI_ROOT=${PREFIX_INTEL_ONEAPI_COMPILERS}")
	// append-path keeps an existing value ahead of the new entry.
	assert.Contains(t, script,
		`export PATH="${PATH:+${PATH}:}${PREFIX_INTEL_ONEAPI_COMPILERS}/compiler/latest/bin"`)
	// prepend-path puts the new entry first.
	assert.Contains(t, script,
		`export PKG_CONFIG_PATH="${PREFIX_INTEL_ONEAPI_COMPILERS}/compiler/latest/lib/pkgconfig${PKG_CONFIG_PATH:+:${PKG_CONFIG_PATH}}"`)
}

func TestEmitExternalRefused(t *testing.T) {
	node := &Node{Name: "cmake", External: true}
	var b strings.Builder
	err := emitBuildScript(&b, node)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "external package")
}

func TestExpandPlaceholders(t *testing.T) {
	a := &Assignment{Name: "x", Version: "1.2.3"}
	assert.Equal(t, "v1.2.3", expandPlaceholders("v{version}", a))
	assert.Equal(t, "${PREFIX}/bin", expandPlaceholders("{prefix}/bin", a))
	assert.Equal(t, "${PREFIX_ARPACK_NG}/lib",
		expandPlaceholders("{prefix:arpack-ng}/lib", a))
	assert.Equal(t, "-DA=${PREFIX_CUDA} -DB=${PREFIX_NVHPC}",
		expandPlaceholders("-DA={prefix:cuda} -DB={prefix:nvhpc}", a))
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "-DFOO=ON", shellQuote("-DFOO=ON"))
	assert.Equal(t, `"-DCMAKE_CXX_FLAGS=-O2 -g"`, shellQuote("-DCMAKE_CXX_FLAGS=-O2 -g"))
}

func TestSelectOptions(t *testing.T) {
	a := &Assignment{Name: "x", Version: "1.0",
		Variants: map[string]string{"mpi": "true", "fft": "mkl"}}
	opts := []Option{
		{Arg: "always"},
		{Arg: "mpi-on", When: "+mpi"},
		{Arg: "mpi-off", When: "~mpi"},
		{Arg: "mkl", When: "fft=mkl"},
	}
	got, err := selectOptions(opts, a)
	require.NoError(t, err)
	assert.Equal(t, []string{"always", "mpi-on", "mkl"}, got)

	_, err = selectOptions([]Option{{Arg: "bad", When: "+"}}, a)
	assert.Error(t, err)
}
