package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"ember/internal/app"
	"ember/internal/store"
)

func dbPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "queue.sqlite")
}

func execRoot(t *testing.T, args ...string) error {
	t.Helper()
	root := NewRootCommand()
	root.SetArgs(args)
	return root.Execute()
}

func TestMigrateCreatesSchema(t *testing.T) {
	path := dbPath(t)
	t.Setenv("QUEUE_DB_PATH", path)

	require.NoError(t, execRoot(t, "db:migrate"))

	s, err := store.Open(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.EnsureSchema(context.Background()))
}

func TestTasksCreateThenListThenStatus(t *testing.T) {
	path := dbPath(t)
	t.Setenv("QUEUE_DB_PATH", path)

	require.NoError(t, execRoot(t, "db:migrate"))
	require.NoError(t, execRoot(t, "tasks:create", "--prompt", "say hi", "--priority", "2"))

	s, err := store.Open(path)
	require.NoError(t, err)
	defer s.Close()
	repo := app.New(s)

	tasks, err := repo.ListTasks(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "say hi", tasks[0].Prompt)
	require.Equal(t, 2, tasks[0].Priority)

	require.NoError(t, execRoot(t, "tasks:list"))
	require.NoError(t, execRoot(t, "status"))
}

func TestTasksCreateRequiresPrompt(t *testing.T) {
	path := dbPath(t)
	t.Setenv("QUEUE_DB_PATH", path)
	require.NoError(t, execRoot(t, "db:migrate"))

	err := execRoot(t, "tasks:create")
	require.Error(t, err)
}

func TestEventsTailAfterTaskCreated(t *testing.T) {
	path := dbPath(t)
	t.Setenv("QUEUE_DB_PATH", path)

	require.NoError(t, execRoot(t, "db:migrate"))
	require.NoError(t, execRoot(t, "tasks:create", "--prompt", "say hi"))
	require.NoError(t, execRoot(t, "events:tail", "--limit", "5"))
}

func TestTasksPurgeRunsWithoutError(t *testing.T) {
	path := dbPath(t)
	t.Setenv("QUEUE_DB_PATH", path)

	require.NoError(t, execRoot(t, "db:migrate"))
	require.NoError(t, execRoot(t, "tasks:create", "--prompt", "say hi"))
	require.NoError(t, execRoot(t, "tasks:purge", "--older-than", "1h"))

	s, err := store.Open(path)
	require.NoError(t, err)
	defer s.Close()
	repo := app.New(s)

	tasks, err := repo.ListTasks(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, tasks, 1, "a freshly queued task is not terminal yet, so purge must leave it")
}

func TestWorkerRejectsUnknownProvider(t *testing.T) {
	path := dbPath(t)
	t.Setenv("QUEUE_DB_PATH", path)
	t.Setenv("WORKER_API_BASE_URL", "http://127.0.0.1:1")

	err := execRoot(t, "worker", "--provider", "does-not-exist")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown provider")
}
