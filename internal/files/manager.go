package files

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dl-alexandre/gdmirror/internal/api"
	"github.com/dl-alexandre/gdmirror/internal/folders"
	"github.com/dl-alexandre/gdmirror/internal/logging"
	"github.com/dl-alexandre/gdmirror/internal/types"
	"github.com/dl-alexandre/gdmirror/internal/utils"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

// Manager handles file operations
type Manager struct {
	client  *api.Client
	shaper  *api.RequestShaper
	folders *folders.Manager
}

// NewManager creates a new file manager
func NewManager(client *api.Client) *Manager {
	return &Manager{
		client:  client,
		shaper:  api.NewRequestShaper(client),
		folders: folders.NewManager(client),
	}
}

// ProgressFunc receives the bytes transferred so far and the expected total
type ProgressFunc func(current, total int64)

// UploadOptions configures file upload
type UploadOptions struct {
	ParentID string
	Name     string
	MimeType string
	Progress ProgressFunc
}

// ListOptions configures file listing
type ListOptions struct {
	ParentID       string
	Query          string
	PageSize       int
	PageToken      string
	OrderBy        string
	IncludeTrashed bool
}

// Upload uploads a file to Drive. Small files go up in one multipart
// request, larger ones in resumable chunks.
func (m *Manager) Upload(ctx context.Context, reqCtx *types.RequestContext, localPath string, opts UploadOptions) (*types.DriveFile, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return nil, openError(localPath, err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, openError(localPath, err)
	}
	if stat.IsDir() {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidPath,
			fmt.Sprintf("Not a regular file: %s", localPath)).Build())
	}

	name := opts.Name
	if name == "" {
		name = filepath.Base(localPath)
	}
	mimeType := opts.MimeType
	if mimeType == "" {
		mimeType = utils.MimeTypeOctetStream
	}

	metadata := &drive.File{
		Name:     name,
		MimeType: mimeType,
	}
	if opts.ParentID != "" {
		metadata.Parents = []string{opts.ParentID}
		reqCtx.InvolvedParentIDs = append(reqCtx.InvolvedParentIDs, opts.ParentID)
	}

	// Small files go up in a single multipart request
	chunkSize := utils.UploadChunkSize
	if stat.Size() <= utils.UploadSimpleMaxBytes {
		chunkSize = 0
	}

	result, err := api.ExecuteWithRetry(ctx, m.client, reqCtx, func() (*drive.File, error) {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		var body io.Reader = file
		if opts.Progress != nil {
			body = &progressReader{r: file, total: stat.Size(), fn: opts.Progress}
		}
		call := m.client.Service().Files.Create(metadata).
			Media(body, googleapi.ContentType(mimeType), googleapi.ChunkSize(chunkSize))
		call = m.shaper.ShapeFilesCreate(call, reqCtx)
		return call.Fields(api.FileFields).Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}

	if result.ResourceKey != "" {
		m.client.ResourceKeys().UpdateFromAPIResponse(result.Id, result.ResourceKey)
	}

	m.client.Logger().Debug("File uploaded",
		logging.F("id", result.Id),
		logging.F("name", name),
		logging.F("size", stat.Size()),
	)
	return api.ConvertFile(result), nil
}

// Download writes the content of fileID to outputPath, or to the file's own
// name in the working directory when outputPath is empty. Content lands in a
// temporary file first so a failed transfer never leaves a partial target.
func (m *Manager) Download(ctx context.Context, reqCtx *types.RequestContext, fileID string, outputPath string, progress ProgressFunc) (string, error) {
	file, err := m.Get(ctx, reqCtx, fileID, "")
	if err != nil {
		return "", err
	}

	if utils.IsWorkspaceMimeType(file.MimeType) {
		return "", utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			fmt.Sprintf("%s is a Google Workspace document and has no binary content", file.Name)).
			WithContext("mimeType", file.MimeType).
			Build())
	}
	if file.Capabilities != nil && !file.Capabilities.CanDownload {
		return "", utils.NewAppError(utils.NewCLIError(utils.ErrCodePermissionDenied,
			"File cannot be downloaded").
			WithContext("capability", "canDownload=false").
			Build())
	}

	if outputPath == "" {
		outputPath = file.Name
	} else if info, err := os.Stat(outputPath); err == nil && info.IsDir() {
		outputPath = filepath.Join(outputPath, file.Name)
	}

	tmp, err := os.CreateTemp(filepath.Dir(outputPath), ".gdmirror-download-*")
	if err != nil {
		return "", utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidPath,
			fmt.Sprintf("Failed to create output file: %s", err)).Build())
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	defer tmp.Close()

	downloadCtx := reqCtx.Fork(types.RequestTypeDownload)
	downloadCtx.InvolvedFileIDs = append(downloadCtx.InvolvedFileIDs, fileID)

	_, err = api.ExecuteWithRetry(ctx, m.client, downloadCtx, func() (int64, error) {
		if _, err := tmp.Seek(0, io.SeekStart); err != nil {
			return 0, err
		}
		if err := tmp.Truncate(0); err != nil {
			return 0, err
		}

		call := m.client.Service().Files.Get(fileID)
		call = m.shaper.ShapeFilesGet(call, downloadCtx)
		resp, err := call.Context(ctx).Download()
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()

		var w io.Writer = tmp
		if progress != nil {
			w = &progressWriter{w: tmp, total: file.Size, fn: progress}
		}
		return io.Copy(w, resp.Body)
	})
	if err != nil {
		return "", err
	}

	if err := tmp.Close(); err != nil {
		return "", utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidPath, err.Error()).Build())
	}
	if err := os.Rename(tmpName, outputPath); err != nil {
		return "", utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidPath,
			fmt.Sprintf("Failed to write %s: %s", outputPath, err)).Build())
	}
	return outputPath, nil
}

// Get retrieves file metadata
func (m *Manager) Get(ctx context.Context, reqCtx *types.RequestContext, fileID string, fields string) (*types.DriveFile, error) {
	reqCtx.InvolvedFileIDs = append(reqCtx.InvolvedFileIDs, fileID)
	if fields == "" {
		fields = api.FileFields
	}

	result, err := api.ExecuteWithRetry(ctx, m.client, reqCtx, func() (*drive.File, error) {
		call := m.client.Service().Files.Get(fileID)
		call = m.shaper.ShapeFilesGet(call, reqCtx)
		return call.Fields(googleapi.Field(fields)).Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}

	if result.ResourceKey != "" {
		m.client.ResourceKeys().UpdateFromAPIResponse(result.Id, result.ResourceKey)
	}

	return api.ConvertFile(result), nil
}

// Search searches for files using a raw Drive query
func (m *Manager) Search(ctx context.Context, reqCtx *types.RequestContext, query string, opts ListOptions) (*types.FileListResult, error) {
	opts.Query = query
	return m.List(ctx, reqCtx, opts)
}

// SearchByName returns the first file named exactly name whose parents
// include parentID, or nil. Drive's "contains" operator matches on word
// prefixes, so candidates are filtered again locally.
func (m *Manager) SearchByName(ctx context.Context, reqCtx *types.RequestContext, name string, parentID string, opts ListOptions) (*types.DriveFile, error) {
	opts.Query = "name contains " + api.QuoteQuery(name)
	opts.PageToken = ""

	candidates, err := m.ListAll(ctx, reqCtx, opts)
	if err != nil {
		return nil, err
	}
	for _, f := range candidates {
		if f.Name != name {
			continue
		}
		if parentID == "" || f.HasParent(parentID) {
			return f, nil
		}
	}
	return nil, nil
}

// List lists one page of files
func (m *Manager) List(ctx context.Context, reqCtx *types.RequestContext, opts ListOptions) (*types.FileListResult, error) {
	var clauses []string
	if opts.ParentID != "" {
		clauses = append(clauses, api.QuoteQuery(opts.ParentID)+" in parents")
		reqCtx.InvolvedParentIDs = append(reqCtx.InvolvedParentIDs, opts.ParentID)
	}
	if !opts.IncludeTrashed {
		clauses = append(clauses, "trashed = false")
	}
	if opts.Query != "" {
		clauses = append(clauses, opts.Query)
	}
	query := strings.Join(clauses, " and ")

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = utils.DefaultListPageSize
	}

	result, err := api.ExecuteWithRetry(ctx, m.client, reqCtx, func() (*drive.FileList, error) {
		call := m.client.Service().Files.List()
		call = m.shaper.ShapeFilesList(call, reqCtx)
		if query != "" {
			call = call.Q(query)
		}
		call = call.PageSize(int64(pageSize)).Fields(api.ListFields)
		if opts.PageToken != "" {
			call = call.PageToken(opts.PageToken)
		}
		if opts.OrderBy != "" {
			call = call.OrderBy(opts.OrderBy)
		}
		return call.Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}

	files := make([]*types.DriveFile, len(result.Files))
	for i, f := range result.Files {
		files[i] = api.ConvertFile(f)
		if f.ResourceKey != "" {
			m.client.ResourceKeys().UpdateFromAPIResponse(f.Id, f.ResourceKey)
		}
	}

	return &types.FileListResult{
		Files:            files,
		NextPageToken:    result.NextPageToken,
		IncompleteSearch: result.IncompleteSearch,
	}, nil
}

// ListAll lists all files by following pagination
func (m *Manager) ListAll(ctx context.Context, reqCtx *types.RequestContext, opts ListOptions) ([]*types.DriveFile, error) {
	var allFiles []*types.DriveFile
	pageToken := opts.PageToken

	for {
		opts.PageToken = pageToken
		result, err := m.List(ctx, reqCtx, opts)
		if err != nil {
			return allFiles, err
		}

		allFiles = append(allFiles, result.Files...)

		if result.NextPageToken == "" {
			break
		}
		pageToken = result.NextPageToken
	}

	return allFiles, nil
}

// Move re-parents a file under newParentID. With keepExisting the file
// stays in its current folders as well.
func (m *Manager) Move(ctx context.Context, reqCtx *types.RequestContext, fileID string, newParentID string, keepExisting bool) (*types.DriveFile, error) {
	reqCtx.InvolvedFileIDs = append(reqCtx.InvolvedFileIDs, fileID)
	reqCtx.InvolvedParentIDs = append(reqCtx.InvolvedParentIDs, newParentID)

	file, err := m.Get(ctx, reqCtx, fileID, "id,name,parents")
	if err != nil {
		return nil, err
	}

	var previous []string
	if !keepExisting {
		for _, p := range file.Parents {
			if p != newParentID {
				previous = append(previous, p)
			}
		}
	}

	result, err := api.ExecuteWithRetry(ctx, m.client, reqCtx, func() (*drive.File, error) {
		call := m.client.Service().Files.Update(fileID, &drive.File{})
		call = m.shaper.ShapeFilesUpdate(call, reqCtx)
		call = call.AddParents(newParentID)
		if len(previous) > 0 {
			call = call.RemoveParents(strings.Join(previous, ","))
		}
		return call.Fields(api.FileFields).Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}

	return api.ConvertFile(result), nil
}

// UploadToFolder uploads localPath and then moves it into folderID. A
// retryable failure repeats the pair under the client's retry policy; a
// file that already reached Drive is moved rather than uploaded again.
func (m *Manager) UploadToFolder(ctx context.Context, reqCtx *types.RequestContext, localPath string, folderID string, mimeType string) (*types.DriveFile, error) {
	logger := m.client.Logger().WithTraceID(reqCtx.TraceID)
	policy := m.client.Policy()

	var uploaded *types.DriveFile
	for attempt := 0; ; attempt++ {
		var err error
		if uploaded == nil {
			uploaded, err = m.Upload(ctx, reqCtx.Fork(types.RequestTypeUpload), localPath, UploadOptions{MimeType: mimeType})
		}
		if err == nil {
			var moved *types.DriveFile
			moved, err = m.Move(ctx, reqCtx.Fork(types.RequestTypeMutation), uploaded.ID, folderID, false)
			if err == nil {
				return moved, nil
			}
		}

		if !utils.IsRetryable(err) || attempt >= policy.MaxRetries {
			return nil, err
		}

		delay := m.client.Backoff(attempt, err)
		logger.Warn("Upload to folder interrupted, retrying",
			logging.F("path", localPath),
			logging.F("folderId", folderID),
			logging.F("attempt", attempt+1),
			logging.F("delay_ms", delay.Milliseconds()),
			logging.F("error", err.Error()),
		)
		if err := m.client.Sleep(ctx, delay); err != nil {
			return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeCancelled, "Operation cancelled").
				WithContext("traceId", reqCtx.TraceID).
				Build())
		}
	}
}

// UploadToFolderByName uploads localPath into the top-level folder called folderName
func (m *Manager) UploadToFolderByName(ctx context.Context, reqCtx *types.RequestContext, localPath string, folderName string) (*types.DriveFile, error) {
	folder, err := m.folders.FindByName(ctx, reqCtx.Fork(types.RequestTypeListOrSearch), folderName)
	if err != nil {
		return nil, err
	}
	return m.UploadToFolder(ctx, reqCtx, localPath, folder.ID, "")
}

func openError(path string, err error) error {
	code := utils.ErrCodeInvalidPath
	if os.IsNotExist(err) {
		code = utils.ErrCodePathNotFound
	}
	return utils.NewAppError(utils.NewCLIError(code,
		fmt.Sprintf("Failed to open file: %s", err)).
		WithContext("path", path).
		Build())
}

type progressReader struct {
	r     io.Reader
	read  int64
	total int64
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		p.fn(p.read, p.total)
	}
	return n, err
}

type progressWriter struct {
	w       io.Writer
	written int64
	total   int64
	fn      ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	if n > 0 {
		p.written += int64(n)
		p.fn(p.written, p.total)
	}
	return n, err
}
