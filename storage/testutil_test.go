package storage

import (
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustSaveTransfer(t *testing.T, store *Store, recordID, fileName string, finishedAt int64) {
	t.Helper()

	err := store.SaveTransfer(TransferHistory{
		RecordID:   recordID,
		FileName:   fileName,
		Kind:       "single",
		Status:     "completed",
		FileSize:   42,
		FinishedAt: finishedAt,
	})
	if err != nil {
		t.Fatalf("save transfer %q: %v", recordID, err)
	}
}
