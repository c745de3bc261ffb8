package avforge

import (
	"compress/gzip"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBuildTarCommand(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("expectations assume the linux sparse flag")
	}

	type Expectation struct {
		Command []string
	}
	tests := []struct {
		Name        string
		Opts        TarOptions
		Expectation Expectation
	}{
		{
			Name: "compressed artifact",
			Opts: TarOptions{
				OutputFile:  "/cache/abc.tar.gz",
				WorkingDir:  "/app",
				SourcePaths: []string{"lib_native", ".avforge-manifest.yaml"},
			},
			Expectation: Expectation{
				Command: []string{"tar", "--sparse", "-cf", "/cache/abc.tar.gz", "-C", "/app", "--use-compress-program=gzip", "lib_native", ".avforge-manifest.yaml"},
			},
		},
		{
			Name: "uncompressed, whole directory",
			Opts: TarOptions{
				OutputFile:   "/cache/abc.tar",
				DontCompress: true,
			},
			Expectation: Expectation{
				Command: []string{"tar", "--sparse", "-cf", "/cache/abc.tar", "."},
			},
		},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			t.Parallel()

			act := Expectation{Command: BuildTarCommand(test.Opts)}
			if diff := cmp.Diff(test.Expectation, act); diff != "" {
				t.Errorf("BuildTarCommand() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuildUnTarCommand(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("expectations assume the linux sparse flag")
	}

	dir := t.TempDir()

	gzFile := filepath.Join(dir, "artifact.bin")
	f, err := os.Create(gzFile)
	if err != nil {
		t.Fatal(err)
	}
	zw := gzip.NewWriter(f)
	if _, err := zw.Write([]byte("payload")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	plainFile := filepath.Join(dir, "artifact.tar")
	if err := os.WriteFile(plainFile, []byte("ustar payload"), 0644); err != nil {
		t.Fatal(err)
	}

	t.Run("gzip detected from content", func(t *testing.T) {
		cmd, err := BuildUnTarCommand(gzFile, "/app")
		if err != nil {
			t.Fatal(err)
		}
		want := []string{"tar", "--sparse", "-xf", gzFile, "--no-same-owner", "-C", "/app", "--use-compress-program=gzip -d"}
		if diff := cmp.Diff(want, cmd); diff != "" {
			t.Errorf("BuildUnTarCommand() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("plain tar", func(t *testing.T) {
		cmd, err := BuildUnTarCommand(plainFile, "/app")
		if err != nil {
			t.Fatal(err)
		}
		want := []string{"tar", "--sparse", "-xf", plainFile, "--no-same-owner", "-C", "/app"}
		if diff := cmp.Diff(want, cmd); diff != "" {
			t.Errorf("BuildUnTarCommand() mismatch (-want +got):\n%s", diff)
		}
	})
}
