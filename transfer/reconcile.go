package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	appcrypto "clipdrop/crypto"
)

const (
	defaultBufferSize        = 8192
	defaultMaxRenameAttempts = 1000
	defaultWorkers           = 2
	defaultQueueSize         = 256
)

var (
	// ErrRenameExhausted is returned when no free destination name was found.
	ErrRenameExhausted = errors.New("rename attempts exhausted")
	// ErrSourceUnreadable is returned when the sandbox file cannot be read.
	ErrSourceUnreadable = errors.New("source unreadable")
	// ErrDigestMismatch is returned when the written copy does not match the source.
	ErrDigestMismatch = errors.New("copy digest mismatch")
	// ErrReconcilerStopped is returned by Submit after Stop.
	ErrReconcilerStopped = errors.New("reconciler stopped")
)

var collisionCounter = regexp.MustCompile(`^(.*)\((\d+)\)$`)

// ReconcileOptions configures a Reconciler.
type ReconcileOptions struct {
	PublicDir         string
	BufferSize        int
	MaxRenameAttempts int
	Workers           int
	QueueSize         int
	Verify            bool

	OnResult func(ReconcileResult)
}

// Job is one unit of reconciliation work.
type Job struct {
	// Key is the ledger file name the result is reported against.
	Key        string
	SourcePath string
	Folder     bool

	// BatchMember results are folded into the aggregate record.
	BatchMember bool
}

// ReconcileResult is the outcome of one Job.
type ReconcileResult struct {
	Job         Job
	StoredPath  string
	BytesCopied int64
	Renames     int
	Files       int
	Err         error
}

// OK reports whether the job reached public storage.
func (r ReconcileResult) OK() bool {
	return r.Err == nil
}

type destinationError struct {
	err error
}

func (e *destinationError) Error() string {
	return e.err.Error()
}

func (e *destinationError) Unwrap() error {
	return e.err
}

// Reconciler moves completed files out of the sandbox into public storage on
// a bounded pool of workers.
type Reconciler struct {
	options ReconcileOptions

	jobs chan Job

	mu      sync.RWMutex
	ctx     context.Context
	stopped bool

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewReconciler validates options and returns an idle reconciler.
func NewReconciler(options ReconcileOptions) (*Reconciler, error) {
	options = options.withDefaults()
	if strings.TrimSpace(options.PublicDir) == "" {
		return nil, errors.New("public directory is required")
	}

	return &Reconciler{
		options: options,
		jobs:    make(chan Job, options.QueueSize),
		ctx:     context.Background(),
	}, nil
}

func (o ReconcileOptions) withDefaults() ReconcileOptions {
	if o.BufferSize <= 0 {
		o.BufferSize = defaultBufferSize
	}
	if o.MaxRenameAttempts <= 0 {
		o.MaxRenameAttempts = defaultMaxRenameAttempts
	}
	if o.Workers <= 0 {
		o.Workers = defaultWorkers
	}
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	return o
}

// Start launches the worker pool. Workers keep copying after ctx ends and
// exit once Stop has closed the queue and every queued job has run.
func (r *Reconciler) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		r.mu.Lock()
		r.ctx = workerCtx
		r.cancel = cancel
		r.mu.Unlock()

		for i := 0; i < r.options.Workers; i++ {
			r.wg.Add(1)
			go r.worker(workerCtx)
		}
	})
}

// Submit queues job for a worker. It blocks while the queue is full.
func (r *Reconciler) Submit(job Job) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		return ErrReconcilerStopped
	}

	select {
	case r.jobs <- job:
		return nil
	case <-r.ctx.Done():
		return r.ctx.Err()
	}
}

// Stop drains queued jobs and waits for the workers to exit.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.stopped = true
		close(r.jobs)
		r.mu.Unlock()

		r.wg.Wait()
		if r.cancel != nil {
			r.cancel()
		}
	})
}

func (r *Reconciler) worker(ctx context.Context) {
	defer r.wg.Done()
	for job := range r.jobs {
		result := r.Run(ctx, job)
		if r.options.OnResult != nil {
			r.options.OnResult(result)
		}
	}
}

// Run reconciles job synchronously on the calling goroutine.
func (r *Reconciler) Run(ctx context.Context, job Job) ReconcileResult {
	var result ReconcileResult
	if job.Folder {
		result = r.reconcileFolder(ctx, job.SourcePath)
	} else {
		result = r.reconcileFile(ctx, job.SourcePath)
	}
	result.Job = job

	entry := logrus.WithFields(logrus.Fields{
		"function":     "Reconcile",
		"file_name":    job.Key,
		"source_path":  job.SourcePath,
		"stored_path":  result.StoredPath,
		"bytes_copied": result.BytesCopied,
		"renames":      result.Renames,
	})
	if result.Err != nil {
		entry.WithError(result.Err).Error("Reconciliation failed, source left in place")
	} else {
		entry.Info("Reconciled into public storage")
	}
	return result
}

func (r *Reconciler) reconcileFile(ctx context.Context, source string) ReconcileResult {
	stored, copied, renames, err := r.moveFile(ctx, source, r.options.PublicDir)
	files := 0
	if err == nil {
		files = 1
	}
	return ReconcileResult{StoredPath: stored, BytesCopied: copied, Renames: renames, Files: files, Err: err}
}

// reconcileFolder moves every file under folder into PublicDir/base(folder),
// keeping relative structure, and removes the private tree once all succeed.
func (r *Reconciler) reconcileFolder(ctx context.Context, folder string) ReconcileResult {
	info, err := os.Stat(folder)
	if err != nil {
		return ReconcileResult{Err: fmt.Errorf("%w: stat folder: %v", ErrSourceUnreadable, err)}
	}
	if !info.IsDir() {
		return ReconcileResult{Err: fmt.Errorf("%w: %s is not a folder", ErrSourceUnreadable, folder)}
	}

	root := filepath.Join(r.options.PublicDir, filepath.Base(folder))
	if err := os.MkdirAll(root, 0o755); err != nil {
		return ReconcileResult{StoredPath: root, Err: fmt.Errorf("create public folder: %w", err)}
	}

	var (
		copied  atomic.Int64
		renames atomic.Int64
		files   atomic.Int64
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.options.Workers)

	walkErr := filepath.WalkDir(folder, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%w: walk %s: %v", ErrSourceUnreadable, path, err)
		}
		rel, err := filepath.Rel(folder, path)
		if err != nil {
			return fmt.Errorf("relative path for %s: %w", path, err)
		}
		if entry.IsDir() {
			if rel == "." {
				return nil
			}
			if err := os.MkdirAll(filepath.Join(root, rel), 0o755); err != nil {
				return fmt.Errorf("create public subfolder: %w", err)
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}

		destDir := filepath.Join(root, filepath.Dir(rel))
		group.Go(func() error {
			_, n, renamed, err := r.moveFile(groupCtx, path, destDir)
			copied.Add(n)
			renames.Add(int64(renamed))
			if err != nil {
				return err
			}
			files.Add(1)
			return nil
		})
		return nil
	})
	groupErr := group.Wait()

	result := ReconcileResult{
		StoredPath:  root,
		BytesCopied: copied.Load(),
		Renames:     int(renames.Load()),
		Files:       int(files.Load()),
	}
	if walkErr != nil {
		result.Err = walkErr
		return result
	}
	if groupErr != nil {
		result.Err = groupErr
		return result
	}

	if err := os.RemoveAll(folder); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "reconcileFolder",
			"folder":   folder,
		}).WithError(err).Warn("Failed to remove private folder after reconciliation")
	}
	return result
}

// moveFile copies source into destDir, renaming on collisions, and deletes the
// source once the full copy is written.
func (r *Reconciler) moveFile(ctx context.Context, source, destDir string) (string, int64, int, error) {
	info, err := os.Stat(source)
	if err != nil {
		return "", 0, 0, fmt.Errorf("%w: stat: %v", ErrSourceUnreadable, err)
	}
	if info.IsDir() {
		return "", 0, 0, fmt.Errorf("%w: %s is a directory", ErrSourceUnreadable, source)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", 0, 0, fmt.Errorf("create destination directory: %w", err)
	}

	sourceDigest := ""
	if r.options.Verify {
		sourceDigest, err = appcrypto.FileDigest(source)
		if err != nil {
			return "", 0, 0, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
		}
	}

	dest := filepath.Join(destDir, filepath.Base(source))
	renames := 0
	for {
		if err := ctx.Err(); err != nil {
			return dest, 0, renames, err
		}

		copied, err := r.copyFile(source, dest, info.Size())
		if err == nil {
			if err := r.verifyCopy(dest, sourceDigest); err != nil {
				_ = os.Remove(dest)
				return dest, copied, renames, err
			}
			if err := os.Remove(source); err != nil {
				logrus.WithFields(logrus.Fields{
					"function":    "moveFile",
					"source_path": source,
				}).WithError(err).Warn("Failed to delete sandbox source")
			}
			return dest, copied, renames, nil
		}

		var destErr *destinationError
		if !errors.As(err, &destErr) {
			return dest, copied, renames, err
		}
		if renames >= r.options.MaxRenameAttempts {
			return dest, copied, renames, fmt.Errorf("%w after %d attempts: %v", ErrRenameExhausted, renames, err)
		}

		next := NextCollisionName(dest)
		logrus.WithFields(logrus.Fields{
			"function": "moveFile",
			"from":     filepath.Base(dest),
			"to":       filepath.Base(next),
		}).WithError(err).Debug("Destination unavailable, retrying under new name")
		dest = next
		renames++
	}
}

// copyFile streams source into a newly created dest in BufferSize chunks.
// Destination-side failures are wrapped in destinationError and leave no partial file.
func (r *Reconciler) copyFile(source, dest string, size int64) (int64, error) {
	src, err := os.Open(source)
	if err != nil {
		return 0, fmt.Errorf("%w: open: %v", ErrSourceUnreadable, err)
	}
	defer func() {
		_ = src.Close()
	}()

	dst, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, &destinationError{err: fmt.Errorf("create destination: %w", err)}
	}

	buffer := make([]byte, r.options.BufferSize)
	var copied int64
	for {
		n, readErr := src.Read(buffer)
		if n > 0 {
			written, writeErr := dst.Write(buffer[:n])
			copied += int64(written)
			if writeErr != nil {
				discardPartial(dst, dest)
				return copied, &destinationError{err: fmt.Errorf("write destination: %w", writeErr)}
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			discardPartial(dst, dest)
			return copied, fmt.Errorf("%w: read: %v", ErrSourceUnreadable, readErr)
		}
	}

	if err := dst.Close(); err != nil {
		_ = os.Remove(dest)
		return copied, &destinationError{err: fmt.Errorf("close destination: %w", err)}
	}
	if copied != size {
		_ = os.Remove(dest)
		return copied, fmt.Errorf("%w: copied %d of %d bytes", ErrSourceUnreadable, copied, size)
	}
	return copied, nil
}

func (r *Reconciler) verifyCopy(dest, sourceDigest string) error {
	if !r.options.Verify {
		return nil
	}
	destDigest, err := appcrypto.FileDigest(dest)
	if err != nil {
		return fmt.Errorf("digest destination: %w", err)
	}
	if destDigest != sourceDigest {
		return fmt.Errorf("%w: %s", ErrDigestMismatch, filepath.Base(dest))
	}
	return nil
}

func discardPartial(file *os.File, path string) {
	_ = file.Close()
	_ = os.Remove(path)
}

// NextCollisionName returns path with its trailing "(N)" counter incremented,
// or "(0)" appended before the extension when there is none.
func NextCollisionName(path string) string {
	dir, base := filepath.Split(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		// Dotfiles like ".profile" have no stem; count on the whole name.
		stem, ext = base, ""
	}

	if match := collisionCounter.FindStringSubmatch(stem); match != nil {
		if n, err := strconv.Atoi(match[2]); err == nil {
			return filepath.Join(dir, fmt.Sprintf("%s(%d)%s", match[1], n+1, ext))
		}
	}
	return filepath.Join(dir, stem+"(0)"+ext)
}
