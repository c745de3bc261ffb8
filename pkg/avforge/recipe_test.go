package avforge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFillDefaults(t *testing.T) {
	type Expectation struct {
		Repository  string
		LibDir      string
		Rpaths      []string
		Interpreter string
		Module      string
	}
	tests := []struct {
		Name        string
		Recipe      Recipe
		Expectation Expectation
	}{
		{
			Name:   "empty recipe",
			Recipe: Recipe{},
			Expectation: Expectation{
				Repository:  "https://github.com/PyAV-Org/PyAV.git",
				LibDir:      "lib_native",
				Rpaths:      []string{"/var/task/lib_native", "$ORIGIN"},
				Interpreter: "python3",
				Module:      "av",
			},
		},
		{
			Name: "explicit values survive",
			Recipe: Recipe{
				Upstream: UpstreamConfig{Repository: "https://example.com/fork.git"},
				Runtime:  RuntimeConfig{LibDir: "native", Rpaths: []string{"/opt/libs"}},
				Python:   PythonConfig{Interpreter: "python3.12", Module: "av"},
			},
			Expectation: Expectation{
				Repository:  "https://example.com/fork.git",
				LibDir:      "native",
				Rpaths:      []string{"/opt/libs"},
				Interpreter: "python3.12",
				Module:      "av",
			},
		},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			t.Parallel()

			r := test.Recipe
			r.FillDefaults()

			act := Expectation{
				Repository:  r.Upstream.Repository,
				LibDir:      r.Runtime.LibDir,
				Rpaths:      r.Runtime.Rpaths,
				Interpreter: r.Python.Interpreter,
				Module:      r.Python.Module,
			}
			if diff := cmp.Diff(test.Expectation, act); diff != "" {
				t.Errorf("FillDefaults() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		Name    string
		Recipe  Recipe
		WantErr bool
	}{
		{
			Name:   "valid recipe",
			Recipe: Recipe{Vendor: VendorConfig{URL: "https://example.com/ffmpeg-{platform}.tar.gz"}},
		},
		{
			Name:    "missing vendor URL",
			Recipe:  Recipe{},
			WantErr: true,
		},
		{
			Name:    "vendor URL without placeholder",
			Recipe:  Recipe{Vendor: VendorConfig{URL: "https://example.com/ffmpeg.tar.gz"}},
			WantErr: true,
		},
		{
			Name: "malformed checksum",
			Recipe: Recipe{Vendor: VendorConfig{
				URL:      "https://example.com/ffmpeg-{platform}.tar.gz",
				Checksum: "deadbeef",
			}},
			WantErr: true,
		},
		{
			Name: "well-formed checksum",
			Recipe: Recipe{Vendor: VendorConfig{
				URL:      "https://example.com/ffmpeg-{platform}.tar.gz",
				Checksum: "sha256:deadbeef",
			}},
		},
		{
			Name: "absolute libDir",
			Recipe: Recipe{
				Vendor:  VendorConfig{URL: "https://example.com/ffmpeg-{platform}.tar.gz"},
				Runtime: RuntimeConfig{LibDir: "/var/task/lib_native"},
			},
			WantErr: true,
		},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			t.Parallel()

			err := test.Recipe.Validate()
			if (err != nil) != test.WantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, test.WantErr)
			}
		})
	}
}

func TestDiscoverRecipeRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, RecipeFile), []byte("vendor:\n  url: https://example.com/{platform}.tar.gz\n"), 0644); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	found, err := discoverRecipeRoot(nested)
	if err != nil {
		t.Fatalf("discoverRecipeRoot() error = %v", err)
	}
	if found != root {
		t.Errorf("discoverRecipeRoot() = %s, want %s", found, root)
	}

	if _, err := discoverRecipeRoot(t.TempDir()); err == nil {
		t.Error("discoverRecipeRoot() on a bare directory succeeded, want error")
	}
}

func TestFindRecipe(t *testing.T) {
	root := t.TempDir()
	fn := filepath.Join(root, RecipeFile)
	fc := `vendor:
  url: https://example.com/ffmpeg-{platform}.tar.gz
runtime:
  libDir: native
`
	if err := os.WriteFile(fn, []byte(fc), 0644); err != nil {
		t.Fatal(err)
	}

	r, err := FindRecipe(fn)
	if err != nil {
		t.Fatalf("FindRecipe() error = %v", err)
	}

	if r.Origin != root {
		t.Errorf("Origin = %s, want %s", r.Origin, root)
	}
	if r.Runtime.LibDir != "native" {
		t.Errorf("LibDir = %s, want native", r.Runtime.LibDir)
	}
	if r.Python.Module != "av" {
		t.Errorf("Module = %s, want the default av", r.Python.Module)
	}
	if want := filepath.Join(root, "native"); r.RuntimeLibDir() != want {
		t.Errorf("RuntimeLibDir() = %s, want %s", r.RuntimeLibDir(), want)
	}
}
