package control

import (
	"path/filepath"
	"regexp"
)

var taskIDRe = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

func validTaskID(id string) bool {
	return taskIDRe.MatchString(id)
}

// validAbsPath requires filesystem paths to be absolute and no longer than
// 4096 chars, applied uniformly across every git/pty route that accepts a
// path.
func validAbsPath(p string) bool {
	if p == "" || len(p) > 4096 {
		return false
	}
	return filepath.IsAbs(p)
}
