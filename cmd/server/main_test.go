package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()

	for _, path := range [][]string{
		{"serve"},
		{"worker"},
		{"languages"},
		{"migrate", "up"},
		{"migrate", "down"},
		{"migrate", "to"},
		{"migrate", "version"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}

	worker, _, err := root.Find([]string{"worker"})
	require.NoError(t, err)
	assert.NotNil(t, worker.Flags().Lookup("once"))
}

func TestMigrateArgs(t *testing.T) {
	root := newRootCmd()

	down, _, err := root.Find([]string{"migrate", "down"})
	require.NoError(t, err)
	assert.Error(t, down.Args(down, []string{"1", "2"}))
	assert.Error(t, down.RunE(down, []string{"zero"}))

	to, _, err := root.Find([]string{"migrate", "to"})
	require.NoError(t, err)
	assert.Error(t, to.Args(to, nil))
	assert.Error(t, to.RunE(to, []string{"v3"}))
}
