package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngoyal88/sqlrecorder/pkg/storage"
	"github.com/ngoyal88/sqlrecorder/pkg/storage/memory"
)

func TestWriteAdminKeyCreatesFile(t *testing.T) {
	env := filepath.Join(t.TempDir(), ".env")

	require.NoError(t, writeAdminKey(env, "admin_one"))

	data, err := os.ReadFile(env)
	require.NoError(t, err)
	assert.Equal(t, "ADMIN_KEY=admin_one\n", string(data))
}

func TestWriteAdminKeyReplacesExisting(t *testing.T) {
	env := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(env, []byte("FOO=bar\nADMIN_KEY=old\nBAZ=1\n"), 0600))

	require.NoError(t, writeAdminKey(env, "admin_new"))

	data, err := os.ReadFile(env)
	require.NoError(t, err)
	assert.Equal(t, "FOO=bar\nADMIN_KEY=admin_new\nBAZ=1\n", string(data))
}

func TestGenerateAdminKey(t *testing.T) {
	a, err := generateAdminKey()
	require.NoError(t, err)
	b, err := generateAdminKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a, "admin_"))
	assert.NotEqual(t, a, b)
}

func TestStateCommands(t *testing.T) {
	ctx := context.Background()
	s := memory.New(storage.Options{})
	var out bytes.Buffer

	require.NoError(t, runStatus(ctx, &out, s, nil))
	assert.Equal(t, "Inactive\n", out.String())

	out.Reset()
	require.NoError(t, runSetState(ctx, &out, s, true))
	assert.Equal(t, "Recorder is now Active\n", out.String())

	on, err := s.Intercepting(ctx)
	require.NoError(t, err)
	assert.True(t, on)
}

func TestListAndGet(t *testing.T) {
	ctx := context.Background()
	s := memory.New(storage.Options{})
	var out bytes.Buffer

	require.NoError(t, runList(ctx, &out, s, nil))
	assert.Equal(t, "No recorded requests\n", out.String())

	require.NoError(t, s.SaveTrace(ctx, &storage.Trace{
		ID:      "abc",
		Path:    "/app/notes",
		Method:  "GET",
		Time:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Queries: 1,
		Calls:   []storage.Call{{Query: "SELECT 1", Duration: 1.5}},
	}))

	out.Reset()
	require.NoError(t, runList(ctx, &out, s, nil))
	assert.Contains(t, out.String(), "1) abc GET /app/notes queries=1")

	out.Reset()
	require.NoError(t, runGet(ctx, &out, s, []string{"abc"}))
	assert.Contains(t, out.String(), `"query": "SELECT 1"`)

	err := runGet(ctx, &out, s, []string{"missing"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
