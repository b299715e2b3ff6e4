package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReconciler(t *testing.T, options ReconcileOptions) (*Reconciler, string, string) {
	t.Helper()

	sandbox := filepath.Join(t.TempDir(), "sandbox")
	public := filepath.Join(t.TempDir(), "public")
	require.NoError(t, os.MkdirAll(sandbox, 0o755))
	require.NoError(t, os.MkdirAll(public, 0o755))

	options.PublicDir = public
	reconciler, err := NewReconciler(options)
	require.NoError(t, err)
	return reconciler, sandbox, public
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestNextCollisionName(t *testing.T) {
	cases := map[string]string{
		"/pub/f.jpg":       "/pub/f(0).jpg",
		"/pub/f(0).jpg":    "/pub/f(1).jpg",
		"/pub/f(9).jpg":    "/pub/f(10).jpg",
		"/pub/report":      "/pub/report(0)",
		"/pub/report(41)":  "/pub/report(42)",
		"/pub/.profile":    "/pub/.profile(0)",
		"/pub/a(b).txt":    "/pub/a(b)(0).txt",
		"/pub/photo().png": "/pub/photo()(0).png",
	}

	for in, want := range cases {
		assert.Equal(t, filepath.FromSlash(want), NextCollisionName(filepath.FromSlash(in)), in)
	}
}

func TestReconcileMovesFileAndDeletesSource(t *testing.T) {
	reconciler, sandbox, public := newTestReconciler(t, ReconcileOptions{BufferSize: 3, Verify: true})
	source := filepath.Join(sandbox, "f.jpg")
	writeFile(t, source, "transferred content")

	result := reconciler.Run(context.Background(), Job{Key: "f.jpg", SourcePath: source})
	require.NoError(t, result.Err)

	assert.Equal(t, filepath.Join(public, "f.jpg"), result.StoredPath)
	assert.Equal(t, int64(len("transferred content")), result.BytesCopied)
	assert.Equal(t, 0, result.Renames)
	assert.Equal(t, 1, result.Files)
	assert.Equal(t, "transferred content", readFile(t, result.StoredPath))
	assert.NoFileExists(t, source)
}

func TestReconcileRenamesOnCollision(t *testing.T) {
	reconciler, sandbox, public := newTestReconciler(t, ReconcileOptions{Verify: true})
	writeFile(t, filepath.Join(public, "f.jpg"), "original")
	writeFile(t, filepath.Join(public, "f(0).jpg"), "first copy")
	source := filepath.Join(sandbox, "f.jpg")
	writeFile(t, source, "newer")

	result := reconciler.Run(context.Background(), Job{Key: "f.jpg", SourcePath: source})
	require.NoError(t, result.Err)

	assert.Equal(t, filepath.Join(public, "f(1).jpg"), result.StoredPath)
	assert.Equal(t, 2, result.Renames)
	assert.Equal(t, "original", readFile(t, filepath.Join(public, "f.jpg")))
	assert.Equal(t, "first copy", readFile(t, filepath.Join(public, "f(0).jpg")))
	assert.Equal(t, "newer", readFile(t, result.StoredPath))
	assert.NoFileExists(t, source)
}

func TestReconcileRenameExhaustionLeavesSource(t *testing.T) {
	reconciler, sandbox, public := newTestReconciler(t, ReconcileOptions{MaxRenameAttempts: 1})
	writeFile(t, filepath.Join(public, "f.jpg"), "original")
	writeFile(t, filepath.Join(public, "f(0).jpg"), "first copy")
	source := filepath.Join(sandbox, "f.jpg")
	writeFile(t, source, "newer")

	result := reconciler.Run(context.Background(), Job{Key: "f.jpg", SourcePath: source})
	require.ErrorIs(t, result.Err, ErrRenameExhausted)
	assert.False(t, result.OK())
	assert.FileExists(t, source)
	assert.NoFileExists(t, filepath.Join(public, "f(1).jpg"))
}

func TestReconcileMissingSourceIsTerminal(t *testing.T) {
	reconciler, sandbox, _ := newTestReconciler(t, ReconcileOptions{})

	result := reconciler.Run(context.Background(), Job{Key: "gone.jpg", SourcePath: filepath.Join(sandbox, "gone.jpg")})
	require.ErrorIs(t, result.Err, ErrSourceUnreadable)
	assert.Equal(t, 0, result.Renames)
}

func TestReconcileEmptyFile(t *testing.T) {
	reconciler, sandbox, public := newTestReconciler(t, ReconcileOptions{Verify: true})
	source := filepath.Join(sandbox, "empty.txt")
	writeFile(t, source, "")

	result := reconciler.Run(context.Background(), Job{Key: "empty.txt", SourcePath: source})
	require.NoError(t, result.Err)
	assert.FileExists(t, filepath.Join(public, "empty.txt"))
	assert.NoFileExists(t, source)
}

func TestReconcileFolderPreservesStructure(t *testing.T) {
	reconciler, sandbox, public := newTestReconciler(t, ReconcileOptions{Workers: 2, Verify: true})
	folder := filepath.Join(sandbox, "photos")
	writeFile(t, filepath.Join(folder, "a.txt"), "alpha")
	writeFile(t, filepath.Join(folder, "nested", "b.txt"), "bravo")
	writeFile(t, filepath.Join(folder, "nested", "deeper", "c.txt"), "charlie")
	writeFile(t, filepath.Join(public, "photos", "a.txt"), "existing")

	result := reconciler.Run(context.Background(), Job{Key: "photos", SourcePath: folder, Folder: true})
	require.NoError(t, result.Err)

	root := filepath.Join(public, "photos")
	assert.Equal(t, root, result.StoredPath)
	assert.Equal(t, 3, result.Files)
	assert.Equal(t, 1, result.Renames)
	assert.Equal(t, "existing", readFile(t, filepath.Join(root, "a.txt")))
	assert.Equal(t, "alpha", readFile(t, filepath.Join(root, "a(0).txt")))
	assert.Equal(t, "bravo", readFile(t, filepath.Join(root, "nested", "b.txt")))
	assert.Equal(t, "charlie", readFile(t, filepath.Join(root, "nested", "deeper", "c.txt")))
	assert.NoDirExists(t, folder)
}

func TestReconcileFolderRejectsFiles(t *testing.T) {
	reconciler, sandbox, _ := newTestReconciler(t, ReconcileOptions{})
	source := filepath.Join(sandbox, "plain.txt")
	writeFile(t, source, "x")

	result := reconciler.Run(context.Background(), Job{Key: "plain.txt", SourcePath: source, Folder: true})
	require.ErrorIs(t, result.Err, ErrSourceUnreadable)
	assert.FileExists(t, source)
}

func TestReconcilerWorkerPoolDeliversResults(t *testing.T) {
	results := make(chan ReconcileResult, 8)
	reconciler, sandbox, public := newTestReconciler(t, ReconcileOptions{
		Workers: 2,
		OnResult: func(result ReconcileResult) {
			results <- result
		},
	})

	names := []string{"one.txt", "two.txt", "three.txt"}
	for _, name := range names {
		writeFile(t, filepath.Join(sandbox, name), name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reconciler.Start(ctx)
	for _, name := range names {
		require.NoError(t, reconciler.Submit(Job{Key: name, SourcePath: filepath.Join(sandbox, name)}))
	}

	got := make(map[string]ReconcileResult)
	for len(got) < len(names) {
		select {
		case result := <-results:
			got[result.Job.Key] = result
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for results, got %d", len(got))
		}
	}
	reconciler.Stop()

	for _, name := range names {
		require.NoError(t, got[name].Err, name)
		assert.Equal(t, name, readFile(t, filepath.Join(public, name)))
	}
	assert.ErrorIs(t, reconciler.Submit(Job{Key: "late"}), ErrReconcilerStopped)
}

func TestReconcilerStopDrainsQueueAfterCancel(t *testing.T) {
	var (
		mu      sync.Mutex
		results []ReconcileResult
	)
	reconciler, sandbox, public := newTestReconciler(t, ReconcileOptions{
		Workers:   1,
		QueueSize: 64,
		OnResult: func(result ReconcileResult) {
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	reconciler.Start(ctx)
	const total = 40
	for i := 0; i < total; i++ {
		name := fmt.Sprintf("queued-%02d.txt", i)
		writeFile(t, filepath.Join(sandbox, name), name)
		require.NoError(t, reconciler.Submit(Job{Key: name, SourcePath: filepath.Join(sandbox, name)}))
	}
	cancel()
	reconciler.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, results, total)
	for _, result := range results {
		require.NoError(t, result.Err, result.Job.Key)
		assert.NoFileExists(t, result.Job.SourcePath)
		assert.Equal(t, result.Job.Key, readFile(t, filepath.Join(public, result.Job.Key)))
	}
}

func TestNewReconcilerRequiresPublicDir(t *testing.T) {
	_, err := NewReconciler(ReconcileOptions{})
	assert.Error(t, err)
}
