package filesystem

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/dinvlad/jade-data-repo/internal/common/datarepoerrors"
)

const (
	Separator = "/"
	RootPath  = "/"
)

// ValidatePath accepts absolute, normalised paths such as /a/b/c.txt.
func ValidatePath(path string) error {
	invalid := func(message string) error {
		return errors.WithStack(&datarepoerrors.ErrInvalidArgument{Name: "path", Value: path, Message: message})
	}
	if !strings.HasPrefix(path, Separator) {
		return invalid("path must be absolute")
	}
	if path == RootPath {
		return nil
	}
	if strings.HasSuffix(path, Separator) {
		return invalid("path must not end with a separator")
	}
	for _, segment := range strings.Split(path[1:], Separator) {
		switch segment {
		case "":
			return invalid("path must not contain empty segments")
		case ".", "..":
			return invalid("path must not contain relative segments")
		}
	}
	return nil
}

// ParentPath returns the directory holding path: "/a/b/c" gives "/a/b" and "/a" gives "".
func ParentPath(path string) string {
	idx := strings.LastIndex(path, Separator)
	if idx <= 0 {
		return ""
	}
	return path[:idx]
}

// LeafName returns the last segment of path.
func LeafName(path string) string {
	return path[strings.LastIndex(path, Separator)+1:]
}

// JoinPath appends name to the directory dir. An empty dir is the root.
func JoinPath(dir string, name string) string {
	if name == "" {
		if dir == "" {
			return RootPath
		}
		return dir
	}
	if dir == RootPath {
		dir = ""
	}
	return dir + Separator + name
}

// Ancestors lists the directories above path, outermost first, root excluded.
func Ancestors(path string) []string {
	var ancestors []string
	for parent := ParentPath(path); parent != ""; parent = ParentPath(parent) {
		ancestors = append([]string{parent}, ancestors...)
	}
	return ancestors
}
