package deps

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Requirement defines an external tool autorename can shell out to.
type Requirement struct {
	Name        string
	Command     string
	Fallback    string
	Description string
	Optional    bool
}

// Status reports the availability of a requirement.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Check resolves req and reports whether it can be executed.
func Check(req Requirement) Status {
	status := Status{
		Name:        req.Name,
		Command:     strings.TrimSpace(req.Command),
		Description: strings.TrimSpace(req.Description),
		Optional:    req.Optional,
	}
	path, err := Resolve(req.Command, req.Fallback)
	if err != nil {
		status.Detail = err.Error()
		return status
	}
	status.Command = path
	status.Available = true
	return status
}

// Resolve returns the executable path for binary, using fallback when
// binary is blank. Values containing a path separator are checked directly;
// bare names are looked up on PATH.
func Resolve(binary, fallback string) (string, error) {
	name := strings.TrimSpace(binary)
	if name == "" {
		name = strings.TrimSpace(fallback)
	}
	if name == "" {
		return "", fmt.Errorf("command not configured")
	}
	if strings.ContainsRune(name, os.PathSeparator) {
		info, err := os.Stat(name)
		if err != nil {
			return "", fmt.Errorf("binary %q: %w", name, err)
		}
		if !isExecutable(info) {
			return "", fmt.Errorf("binary %q is not executable", name)
		}
		return name, nil
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("binary %q not found", name)
	}
	return path, nil
}

func isExecutable(info os.FileInfo) bool {
	if info == nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
