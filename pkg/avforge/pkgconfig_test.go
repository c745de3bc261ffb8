package avforge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const testPCFile = `prefix=/build/ffmpeg/install
exec_prefix=${prefix}
libdir=${prefix}/lib
includedir=${prefix}/include

Name: libavcodec
Description: FFmpeg codec library
Version: 60.3.100
Requires.private: libavutil >= 58.2.100
Libs: -L${libdir} -lavcodec
Cflags: -I${includedir}
`

func TestPatchPrefixes(t *testing.T) {
	vendor := t.TempDir()
	pcDir := filepath.Join(vendor, "lib", "pkgconfig")
	if err := os.MkdirAll(pcDir, 0755); err != nil {
		t.Fatal(err)
	}
	fn := filepath.Join(pcDir, "libavcodec.pc")
	if err := os.WriteFile(fn, []byte(testPCFile), 0644); err != nil {
		t.Fatal(err)
	}

	patched, err := PatchPrefixes(vendor)
	if err != nil {
		t.Fatalf("PatchPrefixes() error = %v", err)
	}
	if diff := cmp.Diff([]string{fn}, patched); diff != "" {
		t.Errorf("PatchPrefixes() mismatch (-want +got):\n%s", diff)
	}

	fc, err := os.ReadFile(fn)
	if err != nil {
		t.Fatal(err)
	}

	absVendor, err := filepath.Abs(vendor)
	if err != nil {
		t.Fatal(err)
	}

	want := "prefix=" + absVendor + `
exec_prefix=${prefix}
libdir=${prefix}/lib
includedir=${prefix}/include

Name: libavcodec
Description: FFmpeg codec library
Version: 60.3.100
Requires.private: libavutil >= 58.2.100
Libs: -L${libdir} -lavcodec
Cflags: -I${includedir}
`
	if diff := cmp.Diff(want, string(fc)); diff != "" {
		t.Errorf("patched file mismatch (-want +got):\n%s", diff)
	}
}

func TestPatchPrefixesNoFiles(t *testing.T) {
	if _, err := PatchPrefixes(t.TempDir()); err == nil {
		t.Error("PatchPrefixes() on a tree without pkg-config files succeeded, want error")
	}
}

func TestNewBuildEnv(t *testing.T) {
	env := NewBuildEnv("/work/vendor", []string{"/var/task/lib_native", "$ORIGIN"})

	want := BuildEnv{
		PkgConfigPath: "/work/vendor/lib/pkgconfig",
		CFlags: []string{
			"-I/work/vendor/include",
			"-Wno-deprecated-declarations",
		},
		LDFlags: []string{
			"-L/work/vendor/lib",
			"-Wl,-rpath,/var/task/lib_native",
			"-Wl,-rpath,$ORIGIN",
		},
	}
	if diff := cmp.Diff(want, env); diff != "" {
		t.Errorf("NewBuildEnv() mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildEnvEnviron(t *testing.T) {
	env := NewBuildEnv("/work/vendor", []string{"$ORIGIN"})
	act := env.Environ([]string{"PATH=/usr/bin"})

	want := []string{
		"PATH=/usr/bin",
		"PKG_CONFIG_PATH=/work/vendor/lib/pkgconfig",
		"CFLAGS=-I/work/vendor/include -Wno-deprecated-declarations",
		"LDFLAGS=-L/work/vendor/lib -Wl,-rpath,$ORIGIN",
	}
	if diff := cmp.Diff(want, act); diff != "" {
		t.Errorf("Environ() mismatch (-want +got):\n%s", diff)
	}
}
