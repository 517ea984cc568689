package filesystem

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParentPath(t *testing.T) {
	tests := map[string]struct {
		path   string
		parent string
		leaf   string
	}{
		"nested":     {path: "/foo/bar/fribble", parent: "/foo/bar", leaf: "fribble"},
		"top level":  {path: "/foo", parent: "", leaf: "foo"},
		"two levels": {path: "/foo/bar", parent: "/foo", leaf: "bar"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.parent, ParentPath(tc.path))
			assert.Equal(t, tc.leaf, LeafName(tc.path))
			assert.Equal(t, tc.path, JoinPath(ParentPath(tc.path), LeafName(tc.path)))
		})
	}
}

func TestJoinPath(t *testing.T) {
	assert.Equal(t, RootPath, JoinPath("", ""))
	assert.Equal(t, "/a", JoinPath("", "a"))
	assert.Equal(t, "/a", JoinPath(RootPath, "a"))
	assert.Equal(t, "/a/b", JoinPath("/a", "b"))
}

func TestAncestors(t *testing.T) {
	assert.Equal(t, []string{"/a", "/a/b"}, Ancestors("/a/b/c"))
	assert.Empty(t, Ancestors("/a"))
}

func TestValidatePath(t *testing.T) {
	tests := map[string]struct {
		path  string
		valid bool
	}{
		"root":             {path: "/", valid: true},
		"file":             {path: "/a/b.txt", valid: true},
		"relative":         {path: "a/b", valid: false},
		"empty":            {path: "", valid: false},
		"trailing slash":   {path: "/a/", valid: false},
		"double separator": {path: "/a//b", valid: false},
		"dot dot":          {path: "/a/../b", valid: false},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := ValidatePath(tc.path)
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
