package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIFlag(t *testing.T) {
	for in, want := range map[string]uint16{"D3A2": 0xD3A2, "0xd3a2": 0xD3A2, " 1 ": 1} {
		got, err := piFlag(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := piFlag("12345")
	assert.Error(t, err)
	_, err = piFlag("xyz")
	assert.Error(t, err)
}

func TestParseSince(t *testing.T) {
	got, err := parseSince("2h")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(-2*time.Hour), got, time.Minute)

	got, err = parseSince("2024-05-01T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), got.UTC())

	_, err = parseSince("yesterday")
	assert.Error(t, err)
}

// run executes the root command against a throwaway data directory.
func run(t *testing.T, dir string, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--data-dir", dir, "--offline"}, args...))
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func TestRulesAndResolveCommands(t *testing.T) {
	dir := t.TempDir()
	t.Cleanup(func() {
		dataDir, offline = "", false
	})

	out := run(t, dir, "rules", "add", "Now playing: ", "--position", "prefix")
	assert.Contains(t, out, "Added rule 1")

	out = run(t, dir, "rules", "list")
	assert.Contains(t, out, `"Now playing:"`)
	assert.Contains(t, out, "PREFIX")

	input := filepath.Join(dir, "rt.txt")
	require.NoError(t, os.WriteFile(input, []byte("Now playing: Unknown Artist - Unknown Song\n"), 0644))
	out = run(t, dir, "resolve", "--pi", "D3A2", input)
	assert.True(t, strings.HasPrefix(out, "no_match"), out)

	out = run(t, dir, "corrections", "ignore", "Station Jingle")
	assert.Contains(t, out, `Ignoring "Station Jingle"`)
	out = run(t, dir, "corrections", "list")
	assert.Contains(t, out, "IGNORED")
}
