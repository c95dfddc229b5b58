package programtree

import (
	"strconv"
	"strings"

	"github.com/osis-hub/program-hub/internal/domain/shared"
)

// PathSeparator joins the node ids of a path.
const PathSeparator = "|"

// Path identifies one occurrence of a node in a tree: the storage ids of
// every node from the root down to it, e.g. "12|45|78".
type Path string

// BuildPath joins ids into a path.
func BuildPath(ids ...int64) Path {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return Path(strings.Join(parts, PathSeparator))
}

// ParsePath validates a textual path.
func ParsePath(s string) (Path, error) {
	p := Path(strings.TrimSpace(s))
	if _, err := p.IDs(); err != nil {
		return "", err
	}
	return p, nil
}

// IDs returns the node ids of the path, root first.
func (p Path) IDs() ([]int64, error) {
	if p == "" {
		return nil, shared.WrapError("programtree", "ParsePath", shared.ErrInvalidFormat, "empty path", nil)
	}
	parts := strings.Split(string(p), PathSeparator)
	ids := make([]int64, len(parts))
	for i, part := range parts {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, shared.WrapError("programtree", "ParsePath", shared.ErrInvalidFormat, "invalid node path "+string(p), err)
		}
		ids[i] = id
	}
	return ids, nil
}

// Append returns the path of a child of the node at p.
func (p Path) Append(id int64) Path {
	if p == "" {
		return BuildPath(id)
	}
	return Path(string(p) + PathSeparator + strconv.FormatInt(id, 10))
}

// Parent returns the path of the parent occurrence, or "" for a root path.
func (p Path) Parent() Path {
	i := strings.LastIndex(string(p), PathSeparator)
	if i < 0 {
		return ""
	}
	return p[:i]
}

// Last returns the id of the node the path points at.
func (p Path) Last() int64 {
	s := string(p)
	if i := strings.LastIndex(s, PathSeparator); i >= 0 {
		s = s[i+1:]
	}
	id, _ := strconv.ParseInt(s, 10, 64)
	return id
}

// Depth returns the number of links between the root and the node (0 for the root).
func (p Path) Depth() int {
	if p == "" {
		return 0
	}
	return strings.Count(string(p), PathSeparator)
}

// IsRoot reports whether the path points at the tree root.
func (p Path) IsRoot() bool {
	return p != "" && p.Depth() == 0
}

// HasPrefix reports whether p equals other or lies below it.
func (p Path) HasPrefix(other Path) bool {
	return p == other || strings.HasPrefix(string(p), string(other)+PathSeparator)
}

// String returns the textual path.
func (p Path) String() string {
	return string(p)
}
