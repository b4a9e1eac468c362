package cli

import (
	"github.com/dl-alexandre/gdmirror/internal/files"
	"github.com/dl-alexandre/gdmirror/internal/types"
	"github.com/dl-alexandre/gdmirror/internal/utils"
	"github.com/spf13/cobra"
)

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "File operations",
	Long:  "List, search, upload, download and move files in Google Drive",
}

var filesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List files",
	Args:  cobra.NoArgs,
	RunE:  runFilesList,
}

var filesGetCmd = &cobra.Command{
	Use:   "get <file-id|url>",
	Short: "Get file metadata",
	Args:  cobra.ExactArgs(1),
	RunE:  runFilesGet,
}

var filesSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search with a raw Drive query",
	Long:  `Search files with a Drive query such as "name contains 'report' and mimeType = 'application/pdf'".`,
	Args:  cobra.ExactArgs(1),
	RunE:  runFilesSearch,
}

var filesFindCmd = &cobra.Command{
	Use:   "find <name>",
	Short: "Find a file by exact name",
	Args:  cobra.ExactArgs(1),
	RunE:  runFilesFind,
}

var filesUploadCmd = &cobra.Command{
	Use:   "upload <local-path>",
	Short: "Upload a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runFilesUpload,
}

var filesUploadToCmd = &cobra.Command{
	Use:   "upload-to <local-path> <folder-id|folder-name>",
	Short: "Upload a file, then move it into a folder",
	Long: `Upload a file to My Drive and then move it into the given folder,
retrying the pair on transient network errors. With --by-name the folder is
looked up by name among the top-level folders.`,
	Args: cobra.ExactArgs(2),
	RunE: runFilesUploadTo,
}

var filesDownloadCmd = &cobra.Command{
	Use:   "download <file-id|url>",
	Short: "Download a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runFilesDownload,
}

var filesMoveCmd = &cobra.Command{
	Use:   "move <file-id|url>",
	Short: "Move a file to another folder",
	Args:  cobra.ExactArgs(1),
	RunE:  runFilesMove,
}

var (
	filesParentID       string
	filesQuery          string
	filesLimit          int
	filesPageToken      string
	filesOrderBy        string
	filesIncludeTrashed bool
	filesAll            bool
	filesFields         string
	filesName           string
	filesMimeType       string
	filesOutput         string
	filesKeepExisting   bool
	filesByName         bool
)

func init() {
	filesListCmd.Flags().StringVar(&filesParentID, "parent", "", "Parent folder ID")
	filesListCmd.Flags().StringVar(&filesQuery, "query", "", "Additional Drive query")
	addPagingFlags(filesListCmd)

	filesSearchCmd.Flags().StringVar(&filesParentID, "parent", "", "Restrict to a parent folder ID")
	addPagingFlags(filesSearchCmd)

	filesGetCmd.Flags().StringVar(&filesFields, "fields", "", "Fields to return")

	filesFindCmd.Flags().StringVar(&filesParentID, "parent", "", "Only match files inside this folder ID")

	filesUploadCmd.Flags().StringVar(&filesParentID, "parent", "", "Parent folder ID")
	filesUploadCmd.Flags().StringVar(&filesName, "name", "", "Name on Drive (defaults to the local file name)")
	filesUploadCmd.Flags().StringVar(&filesMimeType, "mime-type", "", "MIME type")

	filesUploadToCmd.Flags().BoolVar(&filesByName, "by-name", false, "Treat the folder argument as a top-level folder name")
	filesUploadToCmd.Flags().StringVar(&filesMimeType, "mime-type", "", "MIME type")

	filesDownloadCmd.Flags().StringVarP(&filesOutput, "out", "o", "", "Output file or directory")

	filesMoveCmd.Flags().StringVar(&filesParentID, "parent", "", "New parent folder ID")
	filesMoveCmd.Flags().BoolVar(&filesKeepExisting, "keep-existing", false, "Add the new parent without removing the old ones")
	_ = filesMoveCmd.MarkFlagRequired("parent")

	filesCmd.AddCommand(filesListCmd)
	filesCmd.AddCommand(filesGetCmd)
	filesCmd.AddCommand(filesSearchCmd)
	filesCmd.AddCommand(filesFindCmd)
	filesCmd.AddCommand(filesUploadCmd)
	filesCmd.AddCommand(filesUploadToCmd)
	filesCmd.AddCommand(filesDownloadCmd)
	filesCmd.AddCommand(filesMoveCmd)
	rootCmd.AddCommand(filesCmd)
}

func addPagingFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&filesLimit, "limit", utils.DefaultListPageSize, "Files per page")
	cmd.Flags().StringVar(&filesPageToken, "page-token", "", "Page token for pagination")
	cmd.Flags().StringVar(&filesOrderBy, "order-by", "", "Sort order, e.g. 'folder,name'")
	cmd.Flags().BoolVar(&filesIncludeTrashed, "include-trashed", false, "Include trashed files")
	cmd.Flags().BoolVar(&filesAll, "all", false, "Fetch every page")
}

func listOptions() files.ListOptions {
	return files.ListOptions{
		ParentID:       filesParentID,
		Query:          filesQuery,
		PageSize:       filesLimit,
		PageToken:      filesPageToken,
		OrderBy:        filesOrderBy,
		IncludeTrashed: filesIncludeTrashed,
	}
}

func runFilesList(cmd *cobra.Command, args []string) error {
	return runListing(cmd, "files.list", listOptions())
}

func runFilesSearch(cmd *cobra.Command, args []string) error {
	opts := listOptions()
	opts.Query = args[0]
	return runListing(cmd, "files.search", opts)
}

func runListing(cmd *cobra.Command, command string, opts files.ListOptions) error {
	ctx, cancel := withTimeout(cmd.Context())
	defer cancel()

	s, err := newSession(ctx, types.RequestTypeListOrSearch)
	if err != nil {
		return err
	}
	mgr := files.NewManager(s.client)

	if filesAll {
		all, err := mgr.ListAll(ctx, s.reqCtx, opts)
		if err != nil {
			return err
		}
		return s.out.WriteSuccess(command, &types.FileListResult{Files: all})
	}

	result, err := mgr.List(ctx, s.reqCtx, opts)
	if err != nil {
		return err
	}
	return s.out.WriteSuccess(command, result)
}

func runFilesGet(cmd *cobra.Command, args []string) error {
	ctx, cancel := withTimeout(cmd.Context())
	defer cancel()

	s, err := newSession(ctx, types.RequestTypeGetByID)
	if err != nil {
		return err
	}
	fileID, err := s.resolveFileID(args[0])
	if err != nil {
		return err
	}

	file, err := files.NewManager(s.client).Get(ctx, s.reqCtx, fileID, filesFields)
	if err != nil {
		return err
	}
	return s.out.WriteSuccess("files.get", file)
}

func runFilesFind(cmd *cobra.Command, args []string) error {
	ctx, cancel := withTimeout(cmd.Context())
	defer cancel()

	s, err := newSession(ctx, types.RequestTypeListOrSearch)
	if err != nil {
		return err
	}

	file, err := files.NewManager(s.client).SearchByName(ctx, s.reqCtx, args[0], filesParentID, files.ListOptions{})
	if err != nil {
		return err
	}
	if file == nil {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeFileNotFound,
			"No file named '"+args[0]+"' found").
			WithContext("name", args[0]).
			WithContext("parentId", filesParentID).
			Build())
	}
	return s.out.WriteSuccess("files.find", file)
}

func runFilesUpload(cmd *cobra.Command, args []string) error {
	ctx, cancel := withTimeout(cmd.Context())
	defer cancel()

	s, err := newSession(ctx, types.RequestTypeUpload)
	if err != nil {
		return err
	}

	file, err := files.NewManager(s.client).Upload(ctx, s.reqCtx, args[0], files.UploadOptions{
		ParentID: filesParentID,
		Name:     filesName,
		MimeType: filesMimeType,
		Progress: transferProgress(s.out, "Uploading"),
	})
	if err != nil {
		return err
	}

	s.out.Log("Uploaded: %s (%s)", file.Name, file.ID)
	return s.out.WriteSuccess("files.upload", file)
}

func runFilesUploadTo(cmd *cobra.Command, args []string) error {
	ctx, cancel := withTimeout(cmd.Context())
	defer cancel()

	s, err := newSession(ctx, types.RequestTypeUpload)
	if err != nil {
		return err
	}
	mgr := files.NewManager(s.client)

	var file *types.DriveFile
	if filesByName {
		file, err = mgr.UploadToFolderByName(ctx, s.reqCtx, args[0], args[1])
	} else {
		file, err = mgr.UploadToFolder(ctx, s.reqCtx, args[0], args[1], filesMimeType)
	}
	if err != nil {
		return err
	}

	s.out.Log("Uploaded: %s (%s)", file.Name, file.ID)
	return s.out.WriteSuccess("files.upload-to", file)
}

func runFilesDownload(cmd *cobra.Command, args []string) error {
	ctx, cancel := withTimeout(cmd.Context())
	defer cancel()

	s, err := newSession(ctx, types.RequestTypeDownload)
	if err != nil {
		return err
	}
	fileID, err := s.resolveFileID(args[0])
	if err != nil {
		return err
	}

	path, err := files.NewManager(s.client).Download(ctx, s.reqCtx, fileID, filesOutput, transferProgress(s.out, "Downloading"))
	if err != nil {
		return err
	}

	s.out.Log("Downloaded to: %s", path)
	return s.out.WriteSuccess("files.download", map[string]interface{}{
		"id":   fileID,
		"path": path,
	})
}

func runFilesMove(cmd *cobra.Command, args []string) error {
	ctx, cancel := withTimeout(cmd.Context())
	defer cancel()

	s, err := newSession(ctx, types.RequestTypeMutation)
	if err != nil {
		return err
	}
	fileID, err := s.resolveFileID(args[0])
	if err != nil {
		return err
	}

	file, err := files.NewManager(s.client).Move(ctx, s.reqCtx, fileID, filesParentID, filesKeepExisting)
	if err != nil {
		return err
	}
	return s.out.WriteSuccess("files.move", file)
}
