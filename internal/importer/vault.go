package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// FileIndexer indexes the content of one note. The engine implements it.
type FileIndexer interface {
	IndexFile(ctx context.Context, path string, content []byte) (int, error)
}

// ImportResult is the summary of one vault import.
type ImportResult struct {
	JobID          string        `json:"job_id"`
	FilesFound     int           `json:"files_found"`
	FilesProcessed int           `json:"files_processed"`
	FilesSkipped   int           `json:"files_skipped"`
	FilesFailed    int           `json:"files_failed"`
	ChunksIndexed  int           `json:"chunks_indexed"`
	Errors         []string      `json:"errors,omitempty"`
	Duration       time.Duration `json:"duration_ms"`
}

// ImportProgress carries live progress data for a running job.
type ImportProgress struct {
	JobID          string `json:"job_id"`
	Status         string `json:"status"` // "running" | "complete" | "failed"
	FilesTotal     int    `json:"files_total"`
	FilesProcessed int    `json:"files_processed"`
	CurrentFile    string `json:"current_file,omitempty"`
	Message        string `json:"message,omitempty"`
}

// ImportJob tracks an asynchronous import.
type ImportJob struct {
	mu       sync.RWMutex
	progress ImportProgress
	result   *ImportResult
	Done     chan struct{}
}

// Progress returns a snapshot of the job's progress.
func (j *ImportJob) Progress() ImportProgress {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.progress
}

// Result returns the final result, or nil while the job runs.
func (j *ImportJob) Result() *ImportResult {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.result
}

// VaultImporter walks a markdown vault and hands each note to a FileIndexer.
type VaultImporter struct {
	fs      afero.Fs
	indexer FileIndexer
	logger  *zap.Logger

	mu   sync.RWMutex
	jobs map[string]*ImportJob
}

// ImporterOption configures a VaultImporter.
type ImporterOption func(*VaultImporter)

// WithFs sets the filesystem. The default is the OS filesystem.
func WithFs(fs afero.Fs) ImporterOption {
	return func(v *VaultImporter) {
		if fs != nil {
			v.fs = fs
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) ImporterOption {
	return func(v *VaultImporter) {
		if l != nil {
			v.logger = l
		}
	}
}

// NewVaultImporter creates an importer feeding indexer.
func NewVaultImporter(indexer FileIndexer, opts ...ImporterOption) *VaultImporter {
	v := &VaultImporter{
		fs:      afero.NewOsFs(),
		indexer: indexer,
		logger:  zap.NewNop(),
		jobs:    make(map[string]*ImportJob),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Fs returns the filesystem the importer reads from.
func (v *VaultImporter) Fs() afero.Fs {
	return v.fs
}

// Import indexes every markdown note under dir synchronously. Paths handed
// to the indexer are relative to dir.
func (v *VaultImporter) Import(ctx context.Context, dir string) (*ImportResult, error) {
	if err := v.checkDir(dir); err != nil {
		return nil, err
	}
	return v.run(ctx, dir, &ImportJob{progress: ImportProgress{Status: "running"}}), nil
}

// StartImport runs Import in the background and returns its job.
func (v *VaultImporter) StartImport(ctx context.Context, dir string) (*ImportJob, error) {
	if err := v.checkDir(dir); err != nil {
		return nil, err
	}

	jobID := uuid.New().String()
	job := &ImportJob{progress: ImportProgress{JobID: jobID, Status: "running"}, Done: make(chan struct{})}

	v.mu.Lock()
	v.jobs[jobID] = job
	v.mu.Unlock()

	go func() {
		result := v.run(ctx, dir, job)
		job.mu.Lock()
		job.result = result
		if len(result.Errors) > 0 && result.FilesProcessed == 0 {
			job.progress.Status = "failed"
			job.progress.Message = "import failed"
		} else {
			job.progress.Status = "complete"
			job.progress.Message = fmt.Sprintf("indexed %d chunks from %d files",
				result.ChunksIndexed, result.FilesProcessed)
		}
		job.mu.Unlock()
		close(job.Done)
	}()

	return job, nil
}

// Job returns a job started by StartImport.
func (v *VaultImporter) Job(jobID string) (*ImportJob, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	job, ok := v.jobs[jobID]
	return job, ok
}

func (v *VaultImporter) checkDir(dir string) error {
	info, err := v.fs.Stat(dir)
	if err != nil {
		return fmt.Errorf("cannot access directory %q: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%q is not a directory", dir)
	}
	return nil
}

func (v *VaultImporter) run(ctx context.Context, dir string, job *ImportJob) *ImportResult {
	start := time.Now()
	result := &ImportResult{JobID: job.progress.JobID}

	files, err := CollectMarkdownFiles(v.fs, dir)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("walk error: %v", err))
		return result
	}
	result.FilesFound = len(files)
	job.mu.Lock()
	job.progress.FilesTotal = len(files)
	job.mu.Unlock()

	for i, abs := range files {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, "context cancelled")
			break
		}

		rel, err := filepath.Rel(dir, abs)
		if err != nil {
			rel = abs
		}
		rel = filepath.ToSlash(rel)

		job.mu.Lock()
		job.progress.FilesProcessed = i
		job.progress.CurrentFile = rel
		job.mu.Unlock()

		data, err := afero.ReadFile(v.fs, abs)
		if err != nil {
			v.logger.Warn("import: read failed", zap.String("path", rel), zap.Error(err))
			result.FilesSkipped++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: read error: %v", rel, err))
			continue
		}
		if strings.TrimSpace(string(data)) == "" {
			result.FilesSkipped++
			continue
		}

		n, err := v.indexer.IndexFile(ctx, rel, data)
		if err != nil {
			v.logger.Warn("import: index failed", zap.String("path", rel), zap.Error(err))
			result.FilesFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: index error: %v", rel, err))
			continue
		}
		result.FilesProcessed++
		result.ChunksIndexed += n
	}

	result.Duration = time.Since(start)
	v.logger.Info("import: finished",
		zap.String("dir", dir),
		zap.Int("files", result.FilesProcessed),
		zap.Int("chunks", result.ChunksIndexed),
		zap.Int("failed", result.FilesFailed),
		zap.Duration("duration", result.Duration))
	return result
}

// IsMarkdown reports whether path names a markdown note.
func IsMarkdown(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".md" || ext == ".markdown"
}

// CollectMarkdownFiles walks dir and returns every markdown file. Hidden
// directories (.obsidian, .git, .trash) are skipped.
func CollectMarkdownFiles(fs afero.Fs, dir string) ([]string, error) {
	var files []string
	err := afero.Walk(fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != dir && strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if IsMarkdown(info.Name()) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
