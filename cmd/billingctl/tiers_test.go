package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestTiersList(t *testing.T) {
	t.Run("success - public tiers", func(t *testing.T) {
		out, err := runCLI(t, "tiers", "list")
		require.NoError(t, err)

		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 4)
		assert.True(t, strings.HasPrefix(lines[0], "TIER"))
		assert.Contains(t, lines[1], "starter")
		assert.Contains(t, lines[1], "199.00")
		assert.Contains(t, lines[3], "enterprise")
		assert.NotContains(t, out, "custom")
	})

	t.Run("success - all tiers include unlimited custom", func(t *testing.T) {
		out, err := runCLI(t, "tiers", "list", "--all")
		require.NoError(t, err)
		assert.Contains(t, out, "custom")
		assert.Contains(t, out, "unlimited")
	})

	t.Run("error - missing catalog file", func(t *testing.T) {
		_, err := runCLI(t, "tiers", "list", "--catalog", filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
	})

	t.Run("error - malformed catalog file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "catalog.yaml")
		require.NoError(t, os.WriteFile(path, []byte("tiers: [oops"), 0o644))
		_, err := runCLI(t, "tiers", "list", "--catalog", path)
		require.Error(t, err)
	})
}

func TestTiersRecommend(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"success - small team", []string{"--contractors", "3", "--storage-gb", "2.5"}, "starter"},
		{"success - api heavy", []string{"--contractors", "3", "--api-calls", "60000"}, "professional"},
		{"success - many contractors", []string{"--contractors", "120"}, "enterprise"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCLI(t, append([]string{"tiers", "recommend"}, tt.args...)...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, strings.TrimSpace(out))
		})
	}

	t.Run("error - bad storage", func(t *testing.T) {
		_, err := runCLI(t, "tiers", "recommend", "--storage-gb", "lots")
		require.Error(t, err)
	})
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"run-job", "migrate", "tiers", "reconcile"})
}

func TestRunJobRequiresName(t *testing.T) {
	_, err := runCLI(t, "run-job")
	require.Error(t, err)
}
