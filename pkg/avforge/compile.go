package avforge

import (
	"bytes"
	"os"
	"os/exec"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// buildToolPackages are the build front-end's helper packages required to compile
// the binding's native extension sources.
var buildToolPackages = []string{"pip", "setuptools", "wheel", "cython"}

// provisionBuildTools ensures the presence of the build front-end and its
// compiler-extension helper packages.
func (c *buildContext) provisionBuildTools(r *Recipe) error {
	args := append([]string{"-m", "pip", "install", "--upgrade"}, buildToolPackages...)
	if err := c.run(StageProvision, "", nil, r.Python.Interpreter, args...); err != nil {
		return xerrors.Errorf("cannot provision build tools: %w", err)
	}
	return nil
}

// uninstallPrior removes a previously installed version of the module. Absence of
// a prior version is a tolerated no-op; any other uninstall failure aborts the
// build loudly.
func (c *buildContext) uninstallPrior(r *Recipe) error {
	cmd := exec.Command(r.Python.Interpreter, "-m", "pip", "uninstall", "-y", r.Python.Module)
	out, err := cmd.CombinedOutput()
	_, _ = (&reporterStream{R: c.Reporter, S: StageCompile}).Write(out)
	if err == nil {
		return nil
	}

	if bytes.Contains(bytes.ToLower(out), []byte("not installed")) {
		log.WithField("module", r.Python.Module).Debug("no prior version installed")
		return nil
	}

	return xerrors.Errorf("cannot uninstall prior %s: %w", r.Python.Module, err)
}

// compile builds the binding's native extension sources against the configured
// vendor environment and installs the result into the active environment.
// Dependency resolution is disabled: the only new dependency, the vendor library,
// is already staged, and we must not pick up a prebuilt wheel for this package.
func (c *buildContext) compile(r *Recipe, srcDir string, env BuildEnv) error {
	args := []string{
		"-m", "pip", "install",
		"--no-deps",
		"--no-cache-dir",
		"--no-build-isolation",
		"--force-reinstall",
		".",
	}
	if err := c.run(StageCompile, srcDir, env.Environ(os.Environ()), r.Python.Interpreter, args...); err != nil {
		return xerrors.Errorf("compilation of %s failed: %w", r.Python.Module, err)
	}
	return nil
}

// CommandError represents a failed external tool invocation
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return strings.Join([]string{e.Command, e.Err.Error()}, ": ")
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
