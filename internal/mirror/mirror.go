// Package mirror copies a local directory tree into Google Drive, one
// remote folder per local directory.
package mirror

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dl-alexandre/gdmirror/internal/exclude"
	"github.com/dl-alexandre/gdmirror/internal/logging"
	"github.com/dl-alexandre/gdmirror/internal/mirror/checkpoint"
	"github.com/dl-alexandre/gdmirror/internal/utils"
	"golang.org/x/sync/errgroup"
)

// Policy decides what happens when a folder or file already exists remotely
type Policy string

const (
	// PolicyCreate always creates subfolders and uploads every file
	PolicyCreate Policy = "create"
	// PolicyReuse reuses same-named subfolders and skips files whose
	// remote copy has the same name and MD5
	PolicyReuse Policy = "reuse"
)

// ParsePolicy parses a --policy value; empty means PolicyCreate
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyCreate:
		return PolicyCreate, nil
	case PolicyReuse:
		return PolicyReuse, nil
	}
	return "", utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
		fmt.Sprintf("unknown mirror policy %q (want create or reuse)", s)).Build())
}

// Event is emitted after each file is uploaded or skipped
type Event struct {
	Name         string
	RelativePath string
	ID           string
	Bytes        int64
	Percent      float64
	Skipped      bool
}

// Reporter observes progress. Reporters cannot fail a run. Report calls
// never overlap, even with Concurrency above 1, and Percent never decreases.
type Reporter interface {
	Report(Event)
}

// ReporterFunc adapts a function to Reporter
type ReporterFunc func(Event)

func (f ReporterFunc) Report(e Event) { f(e) }

// Options configures a Mirror
type Options struct {
	Policy      Policy
	Concurrency int
	Exclude     *exclude.Matcher
	Checkpoint  *checkpoint.Store
	MimeType    string
	Reporter    Reporter
}

// Result summarizes a completed run
type Result struct {
	RootID        string        `json:"rootId"`
	RemoteName    string        `json:"remoteName"`
	TotalBytes    int64         `json:"totalBytes"`
	UploadedBytes int64         `json:"uploadedBytes"`
	Files         int           `json:"files"`
	Folders       int           `json:"folders"`
	Skipped       int           `json:"skipped"`
	Duration      time.Duration `json:"duration"`
}

// Mirror copies local trees into Drive through a Remote
type Mirror struct {
	remote Remote
	opts   Options
	logger logging.Logger
}

// New creates a new mirror, filling in defaults for unset options
func New(remote Remote, opts Options, logger logging.Logger) *Mirror {
	if opts.Policy == "" {
		opts.Policy = PolicyCreate
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.MimeType == "" {
		opts.MimeType = utils.MimeTypeOctetStream
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Mirror{remote: remote, opts: opts, logger: logger}
}

// run holds the state of a single Run call
type run struct {
	key      string
	progress *Progress
	// mu orders progress updates with their report
	mu      sync.Mutex
	files   atomic.Int64
	folders atomic.Int64
	skipped atomic.Int64
}

// Run mirrors localPath into a top-level Drive folder named remoteName,
// reusing that folder if it already exists.
func (m *Mirror) Run(ctx context.Context, localPath, remoteName string) (*Result, error) {
	start := time.Now()

	root, err := resolveRoot(localPath)
	if err != nil {
		return nil, err
	}
	total, err := treeSize(root, ".", m.opts.Exclude)
	if err != nil {
		return nil, err
	}

	st := &run{
		key:      checkpoint.RunKey(root, remoteName),
		progress: NewProgress(total),
	}

	m.logger.Info("Mirror starting",
		logging.F("localPath", root),
		logging.F("remoteName", remoteName),
		logging.F("totalBytes", total),
		logging.F("policy", string(m.opts.Policy)),
		logging.F("concurrency", m.opts.Concurrency),
	)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rootFolder, err := m.remote.CreateFolderIfAbsent(ctx, remoteName)
	if err != nil {
		return nil, m.fail(ctx, err)
	}
	st.folders.Add(1)

	if err := m.mirrorDir(ctx, st, root, ".", rootFolder.ID); err != nil {
		return nil, m.fail(ctx, err)
	}

	result := &Result{
		RootID:        rootFolder.ID,
		RemoteName:    remoteName,
		TotalBytes:    total,
		UploadedBytes: st.progress.Uploaded(),
		Files:         int(st.files.Load()),
		Folders:       int(st.folders.Load()),
		Skipped:       int(st.skipped.Load()),
		Duration:      time.Since(start),
	}
	if m.opts.Checkpoint != nil {
		if err := m.opts.Checkpoint.Reset(ctx, st.key); err != nil {
			return nil, checkpointError(err)
		}
	}
	m.logger.Info("Mirror completed",
		logging.F("rootId", result.RootID),
		logging.F("files", result.Files),
		logging.F("folders", result.Folders),
		logging.F("skipped", result.Skipped),
		logging.F("duration_ms", result.Duration.Milliseconds()),
	)
	return result, nil
}

// mirrorDir uploads the files of dir into folderID, obtains a remote folder
// for every subdirectory, then descends into each.
func (m *Mirror) mirrorDir(ctx context.Context, st *run, dir, rel, folderID string) error {
	files, dirs, err := readDir(dir, rel, m.opts.Exclude)
	if err != nil {
		return err
	}

	if err := m.uploadFiles(ctx, st, files, folderID); err != nil {
		return err
	}

	folderIDs := make([]string, len(dirs))
	for i, d := range dirs {
		id, err := m.obtainFolder(ctx, st, d, folderID)
		if err != nil {
			return err
		}
		folderIDs[i] = id
	}

	for i, d := range dirs {
		if err := m.mirrorDir(ctx, st, d.path, d.rel, folderIDs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mirror) uploadFiles(ctx context.Context, st *run, files []localEntry, folderID string) error {
	if m.opts.Concurrency == 1 {
		for _, f := range files {
			if err := m.uploadFile(ctx, st, f, folderID); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Concurrency)
	for _, f := range files {
		g.Go(func() error {
			return m.uploadFile(gctx, st, f, folderID)
		})
	}
	return g.Wait()
}

func (m *Mirror) uploadFile(ctx context.Context, st *run, f localEntry, folderID string) error {
	if done, err := m.recordedFile(ctx, st, f); err != nil {
		return err
	} else if done != "" {
		m.skip(st, f, done)
		return nil
	}

	if m.opts.Policy == PolicyReuse {
		id, err := m.findCopy(ctx, f, folderID)
		if err != nil {
			return err
		}
		if id != "" {
			if err := m.record(ctx, st, f, id, false); err != nil {
				return err
			}
			m.skip(st, f, id)
			return nil
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	uploaded, err := m.remote.UploadFile(ctx, f.path, f.name, folderID, m.opts.MimeType)
	if err != nil {
		m.logger.Error("Upload failed",
			logging.F("path", f.rel),
			logging.F("parentId", folderID),
			logging.F("error", err.Error()),
		)
		return err
	}
	if err := m.record(ctx, st, f, uploaded.ID, false); err != nil {
		return err
	}

	st.files.Add(1)
	percent := m.advance(st, Event{Name: f.name, RelativePath: f.rel, ID: uploaded.ID, Bytes: f.size})
	m.logger.Debug("File uploaded",
		logging.F("path", f.rel),
		logging.F("id", uploaded.ID),
		logging.F("percent", percent),
	)
	return nil
}

// findCopy returns the ID of a same-named file under folderID whose size
// and MD5 match f, or "". Earlier versions of a changed file may sit next
// to the current one, so every candidate is checked.
func (m *Mirror) findCopy(ctx context.Context, f localEntry, folderID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	candidates, err := m.remote.FindFiles(ctx, folderID, f.name)
	if err != nil {
		return "", err
	}
	var hash string
	for _, c := range candidates {
		if c.Size != f.size || c.MD5Checksum == "" {
			continue
		}
		if hash == "" {
			if hash, err = hashFile(f.path); err != nil {
				return "", pathError(utils.ErrCodeInvalidPath, f.path, err)
			}
		}
		if c.MD5Checksum == hash {
			return c.ID, nil
		}
	}
	return "", nil
}

func (m *Mirror) skip(st *run, f localEntry, id string) {
	st.skipped.Add(1)
	m.logger.Debug("File already mirrored",
		logging.F("path", f.rel),
		logging.F("id", id),
	)
	m.advance(st, Event{Name: f.name, RelativePath: f.rel, ID: id, Bytes: f.size, Skipped: true})
}

// advance counts e.Bytes towards the run and reports e with the new
// percentage. Holding st.mu across both keeps reported percentages in order.
func (m *Mirror) advance(st *run, e Event) float64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	e.Percent = st.progress.Record(e.Bytes)
	m.report(e)
	return e.Percent
}

// obtainFolder returns the remote folder for local directory d under parentID
func (m *Mirror) obtainFolder(ctx context.Context, st *run, d localEntry, parentID string) (string, error) {
	if done, err := m.recordedFolder(ctx, st, d.rel); err != nil {
		return "", err
	} else if done != "" {
		st.folders.Add(1)
		return done, nil
	}

	if m.opts.Policy == PolicyReuse {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		existing, err := m.remote.FindFolder(ctx, parentID, d.name)
		if err != nil {
			return "", err
		}
		if existing != nil {
			if err := m.record(ctx, st, d, existing.ID, true); err != nil {
				return "", err
			}
			st.folders.Add(1)
			return existing.ID, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	folder, err := m.remote.CreateFolder(ctx, d.name, parentID)
	if err != nil {
		m.logger.Error("Folder creation failed",
			logging.F("path", d.rel),
			logging.F("parentId", parentID),
			logging.F("error", err.Error()),
		)
		return "", err
	}
	if err := m.record(ctx, st, d, folder.ID, true); err != nil {
		return "", err
	}
	st.folders.Add(1)
	m.logger.Debug("Folder created",
		logging.F("path", d.rel),
		logging.F("id", folder.ID),
		logging.F("parentId", parentID),
	)
	return folder.ID, nil
}

// recordedFolder returns the Drive ID the checkpoint holds for folder rel, or ""
func (m *Mirror) recordedFolder(ctx context.Context, st *run, rel string) (string, error) {
	entry, err := m.lookup(ctx, st, rel)
	if err != nil || entry == nil || !entry.IsDir {
		return "", err
	}
	return entry.DriveID, nil
}

// recordedFile returns the Drive ID the checkpoint holds for f, or "" when
// there is none or f has changed size or mtime since it was uploaded.
func (m *Mirror) recordedFile(ctx context.Context, st *run, f localEntry) (string, error) {
	entry, err := m.lookup(ctx, st, f.rel)
	if err != nil || entry == nil || entry.IsDir {
		return "", err
	}
	if entry.Size != f.size || entry.ModTime != f.modTime {
		m.logger.Debug("File changed since checkpoint",
			logging.F("path", f.rel),
			logging.F("size", f.size),
			logging.F("recordedSize", entry.Size),
		)
		return "", nil
	}
	return entry.DriveID, nil
}

func (m *Mirror) lookup(ctx context.Context, st *run, rel string) (*checkpoint.Entry, error) {
	if m.opts.Checkpoint == nil {
		return nil, nil
	}
	entry, err := m.opts.Checkpoint.Lookup(ctx, st.key, rel)
	if err != nil {
		return nil, checkpointError(err)
	}
	return entry, nil
}

func (m *Mirror) record(ctx context.Context, st *run, e localEntry, id string, isDir bool) error {
	if m.opts.Checkpoint == nil {
		return nil
	}
	err := m.opts.Checkpoint.Record(ctx, st.key, checkpoint.Entry{
		RelativePath: e.rel,
		DriveID:      id,
		IsDir:        isDir,
		Size:         e.size,
		ModTime:      e.modTime,
	})
	if err != nil {
		return checkpointError(err)
	}
	return nil
}

// report delivers e to the reporter; a panicking reporter is logged and ignored
func (m *Mirror) report(e Event) {
	if m.opts.Reporter == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("Progress reporter panicked", logging.F("panic", fmt.Sprint(r)))
		}
	}()
	m.opts.Reporter.Report(e)
}

// fail prefers the context's own error once the run has been cancelled
func (m *Mirror) fail(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		m.logger.Warn("Mirror cancelled", logging.F("error", err.Error()))
		return ctxErr
	}
	return err
}

func checkpointError(err error) error {
	return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInternalError,
		fmt.Sprintf("checkpoint store: %s", err)).Build())
}
