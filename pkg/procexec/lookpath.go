package procexec

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// LookPathEnv searches for name in the PATH carried by env rather than the
// harness's own PATH. Names containing a path separator are returned as-is.
// On Windows the variable names are matched case-insensitively and PATHEXT
// supplies the extensions to try.
func LookPathEnv(name string, env []string) (string, bool) {
	return lookPathEnv(runtime.GOOS, name, env)
}

func lookPathEnv(goos, name string, env []string) (string, bool) {
	if name == "" || strings.ContainsAny(name, separators(goos)) {
		return "", false
	}
	path, ok := envValue(goos, env, "PATH")
	if !ok {
		return "", false
	}

	names := []string{name}
	if goos == "windows" {
		names = windowsCandidates(name, env)
	}

	for _, dir := range splitList(goos, path) {
		if dir == "" {
			continue
		}
		for _, n := range names {
			candidate := filepath.Join(dir, n)
			if isExecutable(goos, candidate) {
				return candidate, true
			}
		}
	}
	return "", false
}

func separators(goos string) string {
	if goos == "windows" {
		return `\/:`
	}
	return "/"
}

func splitList(goos, path string) []string {
	if goos == "windows" {
		return strings.Split(path, ";")
	}
	return strings.Split(path, ":")
}

func envValue(goos string, env []string, key string) (string, bool) {
	// Later entries win, as they do for exec.Cmd.
	value, found := "", false
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if k == key || (goos == "windows" && strings.EqualFold(k, key)) {
			value, found = v, true
		}
	}
	return value, found
}

func windowsCandidates(name string, env []string) []string {
	exts := []string{".com", ".exe", ".bat", ".cmd"}
	if pathext, ok := envValue("windows", env, "PATHEXT"); ok && pathext != "" {
		exts = exts[:0]
		for _, e := range strings.Split(strings.ToLower(pathext), ";") {
			if e == "" {
				continue
			}
			if e[0] != '.' {
				e = "." + e
			}
			exts = append(exts, e)
		}
	}

	var out []string
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == e {
			out = append(out, name)
			break
		}
	}
	for _, e := range exts {
		out = append(out, name+e)
	}
	return out
}

func isExecutable(goos, path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if goos == "windows" {
		return true
	}
	return info.Mode().Perm()&0111 != 0
}
