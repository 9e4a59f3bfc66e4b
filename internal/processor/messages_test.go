package processor

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncateText(t *testing.T) {
	assert.Equal(t, "short", truncateText("  short  ", 10))
	assert.Equal(t, "exactly", truncateText("exactly", 7))
	assert.Equal(t, "long tex...", truncateText("long text here", 8))
}

func TestTruncateTextKeepsRunesIntact(t *testing.T) {
	// Cutting at 7 bytes would land inside the fourth two-byte rune.
	got := truncateText(strings.Repeat("é", 50), 7)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "ééé...", got)
}
