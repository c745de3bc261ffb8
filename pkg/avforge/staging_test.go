package avforge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestIsSharedObject(t *testing.T) {
	tests := []struct {
		Name        string
		Expectation bool
	}{
		{"libavcodec.so", true},
		{"libavcodec.so.60", true},
		{"libavcodec.so.60.3.100", true},
		{"libavcodec.dylib", true},
		{"libavcodec.a", false},
		{"avcodec.h", false},
		{"libavcodec.pc", false},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			t.Parallel()

			if act := isSharedObject(test.Name); act != test.Expectation {
				t.Errorf("isSharedObject(%q) = %v, want %v", test.Name, act, test.Expectation)
			}
		})
	}
}

func TestStageSharedObjects(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "lib_native")

	// a typical versioned library with its symlink chain
	if err := os.WriteFile(filepath.Join(src, "libavcodec.so.60.3.100"), []byte("elf"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("libavcodec.so.60.3.100", filepath.Join(src, "libavcodec.so.60")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("libavcodec.so.60", filepath.Join(src, "libavcodec.so")); err != nil {
		t.Fatal(err)
	}
	// static archives and headers must not be staged
	if err := os.WriteFile(filepath.Join(src, "libavcodec.a"), []byte("ar"), 0644); err != nil {
		t.Fatal(err)
	}

	staged, err := StageSharedObjects(src, dst)
	if err != nil {
		t.Fatalf("StageSharedObjects() error = %v", err)
	}

	want := []string{
		filepath.Join(dst, "libavcodec.so"),
		filepath.Join(dst, "libavcodec.so.60"),
		filepath.Join(dst, "libavcodec.so.60.3.100"),
	}
	if diff := cmp.Diff(want, staged); diff != "" {
		t.Errorf("StageSharedObjects() mismatch (-want +got):\n%s", diff)
	}

	// the chain must arrive as links, not as duplicated files
	for link, target := range map[string]string{
		"libavcodec.so":    "libavcodec.so.60",
		"libavcodec.so.60": "libavcodec.so.60.3.100",
	} {
		act, err := os.Readlink(filepath.Join(dst, link))
		if err != nil {
			t.Fatalf("%s is not a symlink: %v", link, err)
		}
		if act != target {
			t.Errorf("%s links to %s, want %s", link, act, target)
		}
	}

	// following the chain must end at the real file
	fc, err := os.ReadFile(filepath.Join(dst, "libavcodec.so"))
	if err != nil {
		t.Fatalf("cannot resolve staged symlink chain: %v", err)
	}
	if string(fc) != "elf" {
		t.Errorf("symlink chain resolves to %q, want the library content", fc)
	}

	if _, err := os.Lstat(filepath.Join(dst, "libavcodec.a")); !os.IsNotExist(err) {
		t.Error("static archive was staged, want shared objects only")
	}
}

func TestStageSharedObjectsRelocatesAbsoluteLinks(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "lib_native")

	if err := os.WriteFile(filepath.Join(src, "libswscale.so.7.1.100"), []byte("elf"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(src, "libswscale.so.7.1.100"), filepath.Join(src, "libswscale.so")); err != nil {
		t.Fatal(err)
	}

	if _, err := StageSharedObjects(src, dst); err != nil {
		t.Fatalf("StageSharedObjects() error = %v", err)
	}

	act, err := os.Readlink(filepath.Join(dst, "libswscale.so"))
	if err != nil {
		t.Fatal(err)
	}
	if act != "libswscale.so.7.1.100" {
		t.Errorf("absolute link target carried over as %q, want the bare file name", act)
	}
}

func TestHasSharedObjects(t *testing.T) {
	empty := t.TempDir()
	if hasSharedObjects(empty) {
		t.Error("hasSharedObjects() on an empty directory = true, want false")
	}
	if hasSharedObjects(filepath.Join(empty, "does-not-exist")) {
		t.Error("hasSharedObjects() on a missing directory = true, want false")
	}

	populated := t.TempDir()
	if err := os.WriteFile(filepath.Join(populated, "libavutil.so.58"), []byte("elf"), 0755); err != nil {
		t.Fatal(err)
	}
	if !hasSharedObjects(populated) {
		t.Error("hasSharedObjects() on a populated directory = false, want true")
	}
}
