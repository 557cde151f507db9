package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShort(t *testing.T) {
	oldV, oldC := Version, Commit
	t.Cleanup(func() { Version, Commit = oldV, oldC })

	Version, Commit = "v0.3.0", "none"
	assert.Equal(t, "v0.3.0", Short())

	Commit = "0123456789abcdef"
	assert.Equal(t, "v0.3.0 (0123456)", Short())
	assert.Contains(t, Details(), "commit: 0123456789abcdef")
}
