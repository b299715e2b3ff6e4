package transfer

import (
	"image"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"clipdrop/models"
)

// ChangeKind describes how a ledger row changed.
type ChangeKind uint8

const (
	// ChangeInserted is emitted when a new row is appended.
	ChangeInserted ChangeKind = iota
	// ChangeUpdated is emitted when an existing row is mutated in place.
	ChangeUpdated
	// ChangeRemoved is emitted when a row is deleted.
	ChangeRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeInserted:
		return "inserted"
	case ChangeUpdated:
		return "updated"
	case ChangeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is delivered to ledger observers after each mutation.
type Change struct {
	Kind     ChangeKind
	Index    int
	Record   models.TransferRecord
	Previous models.Status
	Version  uint64
}

// ChangeFunc observes ledger changes. It runs on the mutating goroutine after
// the ledger lock has been released.
type ChangeFunc func(Change)

// BatchProgress carries the cumulative counters of an aggregate transfer.
type BatchProgress struct {
	DeviceName      string
	CurrentFileName string
	SentFileCount   int
	TotalFileCount  int
	CurrentFileSize int64
	TotalSize       int64
	SentSize        int64
	Percent         int
}

// Ledger is the ordered list of transfer records, unique by file name.
// Mutations are serialized by one lock; readers receive copies.
type Ledger struct {
	mu      sync.RWMutex
	records []*models.TransferRecord
	version uint64
	now     func() time.Time

	observersMu sync.RWMutex
	observers   []ChangeFunc
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{now: time.Now}
}

// SetClock replaces the time source used for UpdatedAt and DateInfo stamps.
func (l *Ledger) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

// Subscribe registers an observer for all subsequent changes.
func (l *Ledger) Subscribe(fn ChangeFunc) {
	if fn == nil {
		return
	}
	l.observersMu.Lock()
	l.observers = append(l.observers, fn)
	l.observersMu.Unlock()
}

// UpsertProgress records per-file progress. A new name creates one in-progress
// single record; terminal records ignore late progress.
func (l *Ledger) UpsertProgress(fileName string, percent int, fileSize int64) {
	if strings.TrimSpace(fileName) == "" {
		return
	}
	percent = clampPercent(percent)

	l.mu.Lock()
	now := l.now()
	idx := l.indexLocked(fileName)
	if idx < 0 {
		record := &models.TransferRecord{
			ID:              uuid.NewString(),
			FileName:        fileName,
			FileSize:        fileSize,
			CurrentProgress: percent,
			Status:          models.StatusInProgress,
			Kind:            models.KindSingle,
			UpdatedAt:       now,
		}
		if percent == 100 {
			record.Status = models.StatusCompleted
			record.DateInfo = FormatDateInfo(now)
		}
		l.records = append(l.records, record)
		change := l.changeLocked(ChangeInserted, len(l.records)-1, models.StatusPending)
		l.mu.Unlock()
		l.notify(change)
		return
	}

	record := l.records[idx]
	if record.Kind == models.KindMultiple || record.Status.IsTerminal() {
		l.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function":  "UpsertProgress",
			"file_name": fileName,
			"status":    record.Status.String(),
			"kind":      record.Kind.String(),
			"percent":   percent,
		}).Debug("Ignoring progress for settled record")
		return
	}

	previous := record.Status
	record.CurrentProgress = percent
	if fileSize > 0 {
		record.FileSize = fileSize
	}
	record.Status = models.StatusInProgress
	if percent == 100 {
		record.Status = models.StatusCompleted
		record.DateInfo = FormatDateInfo(now)
	}
	record.UpdatedAt = now
	change := l.changeLocked(ChangeUpdated, idx, previous)
	l.mu.Unlock()
	l.notify(change)
}

// BeginBatch resets the aggregate slot for a newly announced batch.
func (l *Ledger) BeginBatch(label string, totalCount int, totalSize int64) {
	if strings.TrimSpace(label) == "" {
		return
	}

	l.mu.Lock()
	now := l.now()
	idx := l.batchIndexLocked()
	if idx < 0 {
		l.records = append(l.records, &models.TransferRecord{
			ID:         uuid.NewString(),
			FileName:   label,
			Status:     models.StatusPending,
			Kind:       models.KindMultiple,
			TotalCount: totalCount,
			TotalBytes: totalSize,
			UpdatedAt:  now,
		})
		change := l.changeLocked(ChangeInserted, len(l.records)-1, models.StatusPending)
		l.mu.Unlock()
		l.notify(change)
		return
	}

	previous := l.records[idx].Status
	l.records[idx] = &models.TransferRecord{
		ID:         uuid.NewString(),
		FileName:   label,
		Status:     models.StatusPending,
		Kind:       models.KindMultiple,
		TotalCount: totalCount,
		TotalBytes: totalSize,
		UpdatedAt:  now,
	}
	change := l.changeLocked(ChangeUpdated, idx, previous)
	l.mu.Unlock()
	l.notify(change)
}

// UpsertBatchProgress updates the single aggregate record, creating it when no
// batch has been announced. Progress for a completed slot is stale unless its
// totals differ, in which case a new batch replaces the slot.
func (l *Ledger) UpsertBatchProgress(progress BatchProgress) {
	percent := clampPercent(progress.Percent)

	l.mu.Lock()
	now := l.now()
	idx := l.batchIndexLocked()
	kind := ChangeUpdated
	previous := models.StatusPending
	if idx < 0 {
		label := progress.CurrentFileName
		if strings.TrimSpace(label) == "" {
			label = "batch"
		}
		l.records = append(l.records, &models.TransferRecord{
			ID:        uuid.NewString(),
			FileName:  label,
			Status:    models.StatusPending,
			Kind:      models.KindMultiple,
			UpdatedAt: now,
		})
		idx = len(l.records) - 1
		kind = ChangeInserted
	}

	record := l.records[idx]
	if kind == ChangeUpdated {
		previous = record.Status
	}
	if record.Status == models.StatusCompleted && !sameBatchTotals(record, progress) {
		label := progress.CurrentFileName
		if strings.TrimSpace(label) == "" {
			label = record.FileName
		}
		record = &models.TransferRecord{
			ID:       uuid.NewString(),
			FileName: label,
			Status:   models.StatusPending,
			Kind:     models.KindMultiple,
		}
		l.records[idx] = record
		logrus.WithFields(logrus.Fields{
			"function":  "UpsertBatchProgress",
			"file_name": label,
		}).Debug("Batch totals changed after completion, starting a new batch")
	} else if record.Status.IsTerminal() {
		l.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function":  "UpsertBatchProgress",
			"file_name": record.FileName,
			"status":    record.Status.String(),
			"percent":   percent,
		}).Debug("Ignoring batch progress for settled batch")
		return
	}

	if record.DeviceName == "" {
		record.DeviceName = progress.DeviceName
	}
	record.CurrentFile = progress.CurrentFileName
	record.ReceivedCount = progress.SentFileCount
	record.TotalCount = progress.TotalFileCount
	record.FileSize = progress.CurrentFileSize
	record.TotalBytes = progress.TotalSize
	record.SentBytes = progress.SentSize
	record.CurrentProgress = percent
	record.Status = models.StatusInProgress
	if percent == 100 {
		record.Status = models.StatusCompleted
		record.DateInfo = FormatDateInfo(now)
	}
	record.UpdatedAt = now
	change := l.changeLocked(kind, idx, previous)
	l.mu.Unlock()
	l.notify(change)
}

// MarkError flags an existing record as failed. Unknown names and cancelled
// records are left alone.
func (l *Ledger) MarkError(fileName string) {
	l.mu.Lock()
	idx := l.indexLocked(fileName)
	if idx < 0 {
		l.mu.Unlock()
		logNotFound("MarkError", fileName)
		return
	}
	record := l.records[idx]
	if record.Status == models.StatusError || record.Status == models.StatusCancelled {
		l.mu.Unlock()
		return
	}
	previous := record.Status
	record.Status = models.StatusError
	record.UpdatedAt = l.now()
	change := l.changeLocked(ChangeUpdated, idx, previous)
	l.mu.Unlock()
	l.notify(change)
}

// MarkDone completes a single-file record, creating it if the done callback is
// the first one seen for the name. Errored and cancelled records stay as they are.
func (l *Ledger) MarkDone(fileName string, thumbnail image.Image) {
	if strings.TrimSpace(fileName) == "" {
		return
	}

	l.mu.Lock()
	now := l.now()
	idx := l.indexLocked(fileName)
	if idx < 0 {
		l.records = append(l.records, &models.TransferRecord{
			ID:              uuid.NewString(),
			FileName:        fileName,
			CurrentProgress: 100,
			Status:          models.StatusCompleted,
			Kind:            models.KindSingle,
			DateInfo:        FormatDateInfo(now),
			Thumbnail:       thumbnail,
			UpdatedAt:       now,
		})
		change := l.changeLocked(ChangeInserted, len(l.records)-1, models.StatusPending)
		l.mu.Unlock()
		l.notify(change)
		return
	}

	record := l.records[idx]
	if record.Kind == models.KindMultiple ||
		record.Status == models.StatusError ||
		record.Status == models.StatusCancelled {
		l.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function":  "MarkDone",
			"file_name": fileName,
			"status":    record.Status.String(),
			"kind":      record.Kind.String(),
		}).Debug("Ignoring done for settled record")
		return
	}

	previous := record.Status
	record.Status = models.StatusCompleted
	record.CurrentProgress = 100
	if record.DateInfo == "" {
		record.DateInfo = FormatDateInfo(now)
	}
	if thumbnail != nil {
		record.Thumbnail = thumbnail
	}
	record.UpdatedAt = now
	change := l.changeLocked(ChangeUpdated, idx, previous)
	l.mu.Unlock()
	l.notify(change)
}

// SetThumbnail attaches a preview to an existing record.
func (l *Ledger) SetThumbnail(fileName string, thumbnail image.Image) {
	l.update("SetThumbnail", fileName, func(record *models.TransferRecord) bool {
		if thumbnail == nil {
			return false
		}
		record.Thumbnail = thumbnail
		return true
	})
}

// SetStoredPath records where reconciliation placed the file.
func (l *Ledger) SetStoredPath(fileName, storedPath string) {
	l.update("SetStoredPath", fileName, func(record *models.TransferRecord) bool {
		if record.StoredPath == storedPath {
			return false
		}
		record.StoredPath = storedPath
		return true
	})
}

// Cancel marks one non-terminal record cancelled. It reports whether a record changed.
func (l *Ledger) Cancel(fileName string) bool {
	changed := false
	l.update("Cancel", fileName, func(record *models.TransferRecord) bool {
		if record.Status.IsTerminal() {
			return false
		}
		record.Status = models.StatusCancelled
		changed = true
		return true
	})
	return changed
}

// CancelAll marks every non-terminal record cancelled and returns how many changed.
func (l *Ledger) CancelAll() int {
	l.mu.Lock()
	now := l.now()
	changes := make([]Change, 0)
	for idx, record := range l.records {
		if record.Status.IsTerminal() {
			continue
		}
		previous := record.Status
		record.Status = models.StatusCancelled
		record.UpdatedAt = now
		changes = append(changes, l.changeLocked(ChangeUpdated, idx, previous))
	}
	l.mu.Unlock()

	for _, change := range changes {
		l.notify(change)
	}
	return len(changes)
}

// Remove deletes the record at index. Out-of-range indexes are ignored.
func (l *Ledger) Remove(index int) bool {
	l.mu.Lock()
	if index < 0 || index >= len(l.records) {
		l.mu.Unlock()
		return false
	}
	change := l.removeLocked(index)
	l.mu.Unlock()
	l.notify(change)
	return true
}

// RemoveAll clears the ledger.
func (l *Ledger) RemoveAll() int {
	l.mu.Lock()
	changes := make([]Change, 0, len(l.records))
	for len(l.records) > 0 {
		changes = append(changes, l.removeLocked(len(l.records)-1))
	}
	l.mu.Unlock()

	for _, change := range changes {
		l.notify(change)
	}
	return len(changes)
}

// RemoveDuplicate deletes the record whose name and size both match exactly.
func (l *Ledger) RemoveDuplicate(fileName string, fileSize int64) bool {
	l.mu.Lock()
	_, idx, ok := lo.FindIndexOf(l.records, func(record *models.TransferRecord) bool {
		return record.FileName == fileName && record.FileSize == fileSize
	})
	if !ok {
		l.mu.Unlock()
		return false
	}
	change := l.removeLocked(idx)
	l.mu.Unlock()
	l.notify(change)
	return true
}

// Get returns a copy of the record with fileName.
func (l *Ledger) Get(fileName string) (models.TransferRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx := l.indexLocked(fileName)
	if idx < 0 {
		return models.TransferRecord{}, false
	}
	return *l.records[idx], true
}

// Batch returns a copy of the aggregate record, if any.
func (l *Ledger) Batch() (models.TransferRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx := l.batchIndexLocked()
	if idx < 0 {
		return models.TransferRecord{}, false
	}
	return *l.records[idx], true
}

// Snapshot returns a point-in-time copy of all records in display order.
func (l *Ledger) Snapshot() []models.TransferRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return lo.Map(l.records, func(record *models.TransferRecord, _ int) models.TransferRecord {
		return *record
	})
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Version increases on every mutation; consumers poll it to detect changes.
func (l *Ledger) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}

func (l *Ledger) update(function, fileName string, mutate func(*models.TransferRecord) bool) {
	l.mu.Lock()
	idx := l.indexLocked(fileName)
	if idx < 0 {
		l.mu.Unlock()
		logNotFound(function, fileName)
		return
	}
	record := l.records[idx]
	previous := record.Status
	if !mutate(record) {
		l.mu.Unlock()
		return
	}
	record.UpdatedAt = l.now()
	change := l.changeLocked(ChangeUpdated, idx, previous)
	l.mu.Unlock()
	l.notify(change)
}

// sameBatchTotals reports whether progress belongs to the batch held in record.
func sameBatchTotals(record *models.TransferRecord, progress BatchProgress) bool {
	return record.TotalCount == progress.TotalFileCount && record.TotalBytes == progress.TotalSize
}

func (l *Ledger) indexLocked(fileName string) int {
	if fileName == "" {
		return -1
	}
	_, idx, ok := lo.FindIndexOf(l.records, func(record *models.TransferRecord) bool {
		return record.FileName == fileName
	})
	if !ok {
		return -1
	}
	return idx
}

// batchIndexLocked returns the first aggregate record; only one batch slot is tracked.
func (l *Ledger) batchIndexLocked() int {
	_, idx, ok := lo.FindIndexOf(l.records, func(record *models.TransferRecord) bool {
		return record.Kind == models.KindMultiple
	})
	if !ok {
		return -1
	}
	return idx
}

func (l *Ledger) removeLocked(index int) Change {
	record := l.records[index]
	l.records = append(l.records[:index], l.records[index+1:]...)
	l.version++
	return Change{
		Kind:     ChangeRemoved,
		Index:    index,
		Record:   *record,
		Previous: record.Status,
		Version:  l.version,
	}
}

func (l *Ledger) changeLocked(kind ChangeKind, index int, previous models.Status) Change {
	l.version++
	return Change{
		Kind:     kind,
		Index:    index,
		Record:   *l.records[index],
		Previous: previous,
		Version:  l.version,
	}
}

func (l *Ledger) notify(change Change) {
	l.observersMu.RLock()
	observers := make([]ChangeFunc, len(l.observers))
	copy(observers, l.observers)
	l.observersMu.RUnlock()

	for _, observe := range observers {
		observe(change)
	}
}

func logNotFound(function, fileName string) {
	logrus.WithFields(logrus.Fields{
		"function":  function,
		"file_name": fileName,
	}).Debug("No transfer record for name")
}
