package transfer

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"clipdrop/engine"
	"clipdrop/models"
)

// HistoryStore persists records once they settle.
type HistoryStore interface {
	RecordTransfer(record models.TransferRecord) error
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	// SandboxDir is where the engine writes received files.
	SandboxDir string
	Reconcile  ReconcileOptions

	Thumbnailer       ThumbnailFunc
	DisableThumbnails bool

	History HistoryStore
	Clock   func() time.Time
}

type batchMode uint8

const (
	batchNone batchMode = iota
	batchFolder
	batchFileList
)

// batchState is owned by the event loop goroutine.
type batchState struct {
	mode       batchMode
	label      string
	folderPath string
	remaining  int
	submitted  bool
}

// Service owns the ledger, path registry and reconciler for one process and
// applies engine events to them from a single goroutine.
type Service struct {
	options ServiceOptions

	ledger     *Ledger
	registry   *PathRegistry
	reconciler *Reconciler

	batch batchState

	historyMu sync.Mutex
	persisted map[string]uint64
}

// NewService wires a ledger, registry and reconciler together.
func NewService(options ServiceOptions) (*Service, error) {
	if strings.TrimSpace(options.SandboxDir) == "" {
		return nil, errors.New("sandbox directory is required")
	}
	if options.Thumbnailer == nil {
		options.Thumbnailer = DecodeThumbnail
	}

	s := &Service{
		options:   options,
		ledger:    NewLedger(),
		registry:  NewPathRegistry(),
		persisted: make(map[string]uint64),
	}
	if options.Clock != nil {
		s.ledger.SetClock(options.Clock)
	}

	reconcileOptions := options.Reconcile
	reconcileOptions.OnResult = s.onReconciled
	reconciler, err := NewReconciler(reconcileOptions)
	if err != nil {
		return nil, err
	}
	s.reconciler = reconciler

	if options.History != nil {
		s.ledger.Subscribe(s.persistSettled)
	}
	return s, nil
}

// Run consumes events until ctx ends or the channel closes. Jobs already
// queued for reconciliation still run to completion before it returns.
func (s *Service) Run(ctx context.Context, events <-chan engine.Event) error {
	s.reconciler.Start(ctx)
	defer s.reconciler.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			s.handle(event)
		}
	}
}

func (s *Service) handle(event engine.Event) {
	switch e := event.(type) {
	case engine.SingleProgress:
		s.onSingleProgress(e)
	case engine.BatchProgress:
		s.onBatchProgress(e)
	case engine.FileError:
		s.onFileError(e)
	case engine.FileDone:
		s.onFileDone(e)
	case engine.FolderDragNotify:
		s.onFolderDragNotify(e)
	case engine.FileListDragNotify:
		s.onFileListDragNotify(e)
	default:
		logrus.WithFields(logrus.Fields{
			"function": "handle",
			"type":     event.Type(),
		}).Warn("Unhandled engine event")
	}
}

func (s *Service) onSingleProgress(e engine.SingleProgress) {
	s.ledger.UpsertProgress(e.FileName, ComputePercent(e.BytesReceived, e.BytesTotal), e.BytesTotal)
}

func (s *Service) onBatchProgress(e engine.BatchProgress) {
	deviceName := e.DeviceName
	if deviceName == "" {
		deviceName = e.Peer.Label()
	}
	percent := ComputePercent(e.SentSize, e.TotalSize)

	s.ledger.UpsertBatchProgress(BatchProgress{
		DeviceName:      deviceName,
		CurrentFileName: e.CurrentFileName,
		SentFileCount:   e.SentFileCount,
		TotalFileCount:  e.TotalFileCount,
		CurrentFileSize: e.CurrentFileSize,
		TotalSize:       e.TotalSize,
		SentSize:        e.SentSize,
		Percent:         percent,
	})
	if e.CurrentFileName != "" {
		s.registry.Add(s.sandboxPath(e.CurrentFileName))
	}

	if percent == 100 && s.batch.mode == batchFolder && !s.batch.submitted {
		s.batch.submitted = true
		if !s.batchCompleted() {
			return
		}
		s.submit(Job{Key: s.batch.label, SourcePath: s.batch.folderPath, Folder: true})
	}
}

// batchCompleted reports whether the aggregate record reached Completed.
// Cancelled or errored folders stay in the sandbox.
func (s *Service) batchCompleted() bool {
	record, ok := s.ledger.Batch()
	if ok && record.Status == models.StatusCompleted {
		return true
	}
	logrus.WithFields(logrus.Fields{
		"function":  "batchCompleted",
		"file_name": s.batch.label,
		"status":    record.Status.String(),
	}).Info("Skipping reconciliation for unsettled batch")
	return false
}

func (s *Service) onFileError(e engine.FileError) {
	logrus.WithFields(logrus.Fields{
		"function":  "onFileError",
		"file_name": e.FileName,
		"peer":      e.Peer.Label(),
		"error":     e.ErrorMessage,
	}).Warn("Engine reported transfer failure")

	if _, ok := s.ledger.Get(e.FileName); !ok && s.batch.mode != batchNone {
		s.ledger.MarkError(s.batch.label)
		return
	}
	s.ledger.MarkError(e.FileName)
}

func (s *Service) onFileDone(e engine.FileDone) {
	if strings.TrimSpace(e.FilePath) == "" {
		return
	}
	path := s.sandboxPath(e.FilePath)

	switch s.batch.mode {
	case batchFolder:
		if isWithin(s.batch.folderPath, path) {
			s.registry.Add(path)
			return
		}
	case batchFileList:
		if s.batch.remaining > 0 {
			s.batch.remaining--
			s.registry.Add(path)
			if record, ok := s.ledger.Batch(); ok && (record.Status == models.StatusCancelled || record.Status == models.StatusError) {
				logrus.WithFields(logrus.Fields{
					"function":  "onFileDone",
					"file_name": s.batch.label,
					"status":    record.Status.String(),
				}).Info("Skipping reconciliation for settled batch member")
			} else {
				s.submit(Job{Key: s.batch.label, SourcePath: path, BatchMember: true})
			}
			if s.batch.remaining == 0 {
				s.batch = batchState{}
			}
			return
		}
	case batchNone:
	}

	name := filepath.Base(path)
	s.ledger.MarkDone(name, nil)
	record, ok := s.ledger.Get(name)
	if !ok || record.Status != models.StatusCompleted {
		logrus.WithFields(logrus.Fields{
			"function":  "onFileDone",
			"file_name": name,
			"status":    record.Status.String(),
		}).Info("Skipping reconciliation for unsettled record")
		return
	}
	s.submit(Job{Key: name, SourcePath: path})
}

func (s *Service) onFolderDragNotify(e engine.FolderDragNotify) {
	if strings.TrimSpace(e.FolderName) == "" {
		return
	}
	s.registry.Clear()
	s.batch = batchState{
		mode:       batchFolder,
		label:      e.FolderName,
		folderPath: s.sandboxPath(e.FolderName),
	}
	s.ledger.BeginBatch(e.FolderName, 0, 0)
}

func (s *Service) onFileListDragNotify(e engine.FileListDragNotify) {
	label := e.FirstFileName
	if strings.TrimSpace(label) == "" {
		label = e.Peer.Label()
	}
	s.registry.Clear()
	s.ledger.RemoveDuplicate(e.FirstFileName, e.FirstFileSize)
	s.batch = batchState{
		mode:      batchFileList,
		label:     label,
		remaining: e.FileCount,
	}
	s.ledger.BeginBatch(label, e.FileCount, e.TotalSize)
	if e.TotalSize == 0 {
		s.ledger.UpsertBatchProgress(BatchProgress{
			DeviceName:     e.Peer.Label(),
			TotalFileCount: e.FileCount,
			Percent:        ComputePercent(0, 0),
		})
	}
}

func (s *Service) submit(job Job) {
	if err := s.reconciler.Submit(job); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "submit",
			"file_name":   job.Key,
			"source_path": job.SourcePath,
		}).WithError(err).Error("Failed to queue reconciliation")
		s.ledger.MarkError(job.Key)
	}
}

// onReconciled runs on reconciler workers.
func (s *Service) onReconciled(result ReconcileResult) {
	if !result.OK() {
		s.ledger.MarkError(result.Job.Key)
		return
	}
	if result.Job.BatchMember {
		return
	}

	s.ledger.SetStoredPath(result.Job.Key, result.StoredPath)
	if result.Job.Folder || s.options.DisableThumbnails {
		return
	}
	s.attachThumbnail(result.Job.Key, result.StoredPath)
}

func (s *Service) attachThumbnail(key, path string) {
	entry := logrus.WithFields(logrus.Fields{
		"function":    "attachThumbnail",
		"file_name":   key,
		"stored_path": path,
	})

	isMedia, mimeType, err := MediaKind(path)
	if err != nil {
		entry.WithError(err).Debug("Could not sniff reconciled file")
		return
	}
	if !isMedia {
		return
	}

	thumbnail, err := s.options.Thumbnailer(path)
	if err != nil {
		entry.WithField("mime_type", mimeType).WithError(err).Warn("Thumbnail generation failed")
		return
	}
	if thumbnail != nil {
		s.ledger.SetThumbnail(key, thumbnail)
	}
}

// persistSettled writes terminal records to history. Observers run outside the
// ledger lock, so a change older than the last one written for the same
// record is dropped.
func (s *Service) persistSettled(change Change) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	id := change.Record.ID
	if change.Kind == ChangeRemoved {
		delete(s.persisted, id)
		return
	}
	if !change.Record.Status.IsTerminal() {
		return
	}
	if last, ok := s.persisted[id]; ok && change.Version <= last {
		logrus.WithFields(logrus.Fields{
			"function":  "persistSettled",
			"file_name": change.Record.FileName,
			"version":   change.Version,
			"persisted": last,
		}).Debug("Dropping stale history change")
		return
	}
	s.persisted[id] = change.Version
	if err := s.options.History.RecordTransfer(change.Record); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "persistSettled",
			"file_name": change.Record.FileName,
		}).WithError(err).Warn("Failed to persist transfer history")
	}
}

func (s *Service) sandboxPath(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	if filepath.IsAbs(filepath.FromSlash(name)) {
		return filepath.Clean(filepath.FromSlash(name))
	}
	return filepath.Join(s.options.SandboxDir, filepath.FromSlash(name))
}

func isWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Ledger exposes the underlying ledger for observers.
func (s *Service) Ledger() *Ledger {
	return s.ledger
}

// SnapshotRecords returns a point-in-time copy of the transfer list.
func (s *Service) SnapshotRecords() []models.TransferRecord {
	return s.ledger.Snapshot()
}

// RequestCancel marks one transfer cancelled. In-flight copies are not aborted.
func (s *Service) RequestCancel(fileName string) bool {
	return s.ledger.Cancel(fileName)
}

// RequestCancelAll marks every unsettled transfer cancelled.
func (s *Service) RequestCancelAll() int {
	return s.ledger.CancelAll()
}

// RequestDelete removes the record at index.
func (s *Service) RequestDelete(index int) bool {
	return s.ledger.Remove(index)
}

// RequestDeleteAll clears the transfer list.
func (s *Service) RequestDeleteAll() int {
	return s.ledger.RemoveAll()
}

// UniqueBatchPaths returns the deduplicated paths of the current batch.
func (s *Service) UniqueBatchPaths() []string {
	return s.registry.Snapshot()
}
