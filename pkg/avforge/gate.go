package avforge

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
)

// BuildStatus is the outcome of the idempotency gate
type BuildStatus struct {
	// AlreadyBuilt is true if the module imports successfully under the
	// configured library search path AND the runtime library directory holds at
	// least one shared object.
	AlreadyBuilt bool
	// Reason explains the decision in human terms
	Reason string
	// ModuleVersion is the probed version string, if the probe succeeded
	ModuleVersion string
	// Manifest is the recorded build manifest, if one exists
	Manifest *Manifest
}

// Status decides whether a prior successful build already exists. A sentinel or
// manifest alone is never sufficient: it does not verify the artifact still
// exists, e.g. after a clean checkout. The artifact itself is what we probe.
func Status(r *Recipe) BuildStatus {
	res := BuildStatus{}
	if m, err := LoadManifest(r.ManifestPath()); err == nil {
		res.Manifest = m
	}

	libDir := r.RuntimeLibDir()
	if !hasSharedObjects(libDir) {
		if _, err := os.Stat(r.LegacySentinelPath()); err == nil {
			log.WithField("sentinel", r.LegacySentinelPath()).Warn("stale sentinel: marker file exists but the runtime library directory is missing or empty - rebuilding")
		}
		res.Reason = fmt.Sprintf("%s contains no shared objects", libDir)
		return res
	}

	version, err := ImportProbe(r.Python.Interpreter, r.Python.Module, libDir)
	if err != nil {
		res.Reason = err.Error()
		return res
	}

	res.AlreadyBuilt = true
	res.ModuleVersion = version
	res.Reason = fmt.Sprintf("%s %s imports cleanly and %s is populated", r.Python.Module, version, libDir)
	return res
}
