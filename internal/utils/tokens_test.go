package utils_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/insightloom-cli/internal/utils"
)

func TestCountTokens(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want int
	}{
		{"empty", "", 0},
		{"short", "hi", 1},
		{"simple", "hello world", 2},
		{"multibyte counts runes", strings.Repeat("é", 8), 2},
		{"long", strings.Repeat("a", 4000), 1000},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, utils.CountTokens(c.in), c.name)
	}
}

func TestTruncateToTokenLimit(t *testing.T) {
	text := strings.Repeat("abcd ", 1000)
	trunc := utils.TruncateToTokenLimit(text, 300)
	assert.Len(t, trunc, 1200)
	assert.LessOrEqual(t, utils.CountTokens(trunc), 300)

	assert.Equal(t, "short", utils.TruncateToTokenLimit("short", 10))
	assert.Empty(t, utils.TruncateToTokenLimit("anything", 0))
	assert.Equal(t, "éééé", utils.TruncateToTokenLimit(strings.Repeat("é", 10), 1))
}

func TestSafeWriteFileReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, utils.SafeWriteFile(path, []byte("one")))
	require.NoError(t, utils.SafeWriteFile(path, []byte("two")))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(b))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPrettyJSON(t *testing.T) {
	b, err := utils.PrettyJSON(map[string]int{"rows": 2})
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"rows\": 2\n}", string(b))

	_, err = utils.PrettyJSON(func() {})
	assert.Error(t, err)
}
