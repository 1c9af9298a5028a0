// Package paths maps a user's benchmark work tree between the host view
// (used on scheduler command lines) and the mount-prefixed view the
// controller container sees.
package paths

import (
	"path/filepath"
	"strings"
)

// Names of the per-user work directories below <home>/.xbat.
const (
	BaseDirName       = ".xbat"
	JobscriptsDirName = "jobscripts"
	LogsDirName       = "logs"
	OutputsDirName    = "outputs"
)

// Set holds the four work directories of one user home tree.
type Set struct {
	Base       string
	Jobscripts string
	Logs       string
	Outputs    string
}

// List returns the directories in creation order (base first).
func (s Set) List() []string {
	return []string{s.Base, s.Jobscripts, s.Logs, s.Outputs}
}

// Directories is the dual view of a user's xbat tree. External paths are
// regular host paths used on sbatch command lines and inside job scripts;
// Internal paths are the same directories as seen from inside the
// controller container, below the home mount prefix. All filesystem work
// happens on Internal, all text handed to the scheduler uses External.
type Directories struct {
	External Set
	Internal Set
}

// ForHome computes the internal and external xbat directories for the given
// home directory. mountPrefix is where host home trees are mounted inside
// the container (empty means the controller sees host paths directly).
func ForHome(homeDir, mountPrefix string) Directories {
	externalBase := filepath.Join(homeDir, BaseDirName)
	internalBase := Internal(externalBase, mountPrefix)

	return Directories{
		External: setFor(externalBase),
		Internal: setFor(internalBase),
	}
}

// Internal maps a host path onto the container view by prefixing it with
// the home mount prefix.
func Internal(hostPath, mountPrefix string) string {
	if mountPrefix == "" {
		return hostPath
	}
	return filepath.Join(mountPrefix, strings.TrimPrefix(hostPath, "/"))
}

func setFor(base string) Set {
	return Set{
		Base:       base,
		Jobscripts: filepath.Join(base, JobscriptsDirName),
		Logs:       filepath.Join(base, LogsDirName),
		Outputs:    filepath.Join(base, OutputsDirName),
	}
}
