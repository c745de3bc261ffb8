package avforge

import (
	"io"
	"os"
	"runtime"
	"strings"
)

// TarOptions configures the packing of a build artifact
type TarOptions struct {
	// OutputFile is the path of the .tar or .tar.gz to produce
	OutputFile string

	// WorkingDir changes to this directory before archiving (-C flag)
	WorkingDir string

	// SourcePaths are the files/directories to include, relative to WorkingDir
	SourcePaths []string

	// DontCompress skips gzip compression
	DontCompress bool
}

// BuildTarCommand creates the tar invocation that packs a build artifact.
// Symlinks are stored as symlinks, which matters: the artifact carries the
// versioned .so symlink chains of the runtime library directory.
func BuildTarCommand(opts TarOptions) []string {
	cmd := []string{"tar"}
	if runtime.GOOS == "linux" {
		cmd = append(cmd, "--sparse")
	}

	cmd = append(cmd, "-cf", opts.OutputFile)
	if opts.WorkingDir != "" {
		cmd = append(cmd, "-C", opts.WorkingDir)
	}
	if !opts.DontCompress {
		cmd = append(cmd, "--use-compress-program=gzip")
	}

	if len(opts.SourcePaths) > 0 {
		cmd = append(cmd, opts.SourcePaths...)
	} else {
		cmd = append(cmd, ".")
	}

	return cmd
}

// BuildUnTarCommand creates the tar invocation that unpacks a build artifact into
// targetDir. Compression is detected from the file itself, not its name.
func BuildUnTarCommand(inputFile, targetDir string) ([]string, error) {
	cmd := []string{"tar"}
	if runtime.GOOS == "linux" {
		cmd = append(cmd, "--sparse")
	}

	cmd = append(cmd, "-xf", inputFile, "--no-same-owner")
	if targetDir != "" {
		cmd = append(cmd, "-C", targetDir)
	}

	compressed, err := isGzipFile(inputFile)
	if err != nil {
		return nil, err
	}
	if compressed || strings.HasSuffix(inputFile, ".gz") {
		cmd = append(cmd, "--use-compress-program=gzip -d")
	}

	return cmd, nil
}

// isGzipFile checks the file's magic number for the gzip signature
func isGzipFile(fn string) (bool, error) {
	f, err := os.Open(fn)
	if err != nil {
		return false, err
	}
	defer f.Close()

	header := make([]byte, 2)
	if _, err := io.ReadFull(f, header); err != nil {
		return false, nil
	}

	return header[0] == 0x1f && header[1] == 0x8b, nil
}
