package avforge

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/xerrors"
)

// ImportProbe loads the built module under the given library search path and
// returns its reported version string. The probe doubles as the idempotency
// check before a build and as the smoke test after one.
func ImportProbe(interpreter, module, libDir string) (version string, err error) {
	cmd := exec.Command(interpreter, "-c", fmt.Sprintf("import %s; print(%s.__version__)", module, module))
	cmd.Env = withLibraryPath(os.Environ(), libDir)

	out, err := cmd.Output()
	if err != nil {
		var ee *exec.ExitError
		if xerrors.As(err, &ee) && len(ee.Stderr) > 0 {
			return "", xerrors.Errorf("cannot import %s: %w: %s", module, err, strings.TrimSpace(string(ee.Stderr)))
		}
		return "", xerrors.Errorf("cannot import %s: %w", module, err)
	}

	version = strings.TrimSpace(string(out))
	if version == "" {
		return "", xerrors.Errorf("%s imported but reports an empty version string", module)
	}

	return version, nil
}

// withLibraryPath prepends libDir to the dynamic loader search path of env
func withLibraryPath(env []string, libDir string) []string {
	const key = "LD_LIBRARY_PATH="
	res := make([]string, 0, len(env)+1)
	var found bool
	for _, e := range env {
		if strings.HasPrefix(e, key) {
			e = key + libDir + string(os.PathListSeparator) + strings.TrimPrefix(e, key)
			found = true
		}
		res = append(res, e)
	}
	if !found {
		res = append(res, key+libDir)
	}
	return res
}
