package cli

import (
	"github.com/dl-alexandre/gdmirror/internal/folders"
	"github.com/dl-alexandre/gdmirror/internal/types"
	"github.com/dl-alexandre/gdmirror/internal/utils"
	"github.com/spf13/cobra"
)

var foldersCmd = &cobra.Command{
	Use:   "folders",
	Short: "Folder operations",
}

var foldersCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a folder",
	Long: `Create a folder. With --if-absent an existing top-level folder of the
same name is returned instead of creating a second one.`,
	Args: cobra.ExactArgs(1),
	RunE: runFoldersCreate,
}

var foldersListCmd = &cobra.Command{
	Use:   "list [folder-id]",
	Short: "List the contents of a folder (My Drive root by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runFoldersList,
}

var foldersFindCmd = &cobra.Command{
	Use:   "find <name>",
	Short: "Find a folder by exact name",
	Args:  cobra.ExactArgs(1),
	RunE:  runFoldersFind,
}

var (
	foldersParentID  string
	foldersIfAbsent  bool
	foldersPageSize  int
	foldersPageToken string
)

func init() {
	foldersCreateCmd.Flags().StringVar(&foldersParentID, "parent", "", "Parent folder ID")
	foldersCreateCmd.Flags().BoolVar(&foldersIfAbsent, "if-absent", false, "Reuse an existing top-level folder with this name")

	foldersListCmd.Flags().IntVar(&foldersPageSize, "limit", utils.DefaultListPageSize, "Items per page")
	foldersListCmd.Flags().StringVar(&foldersPageToken, "page-token", "", "Page token for pagination")

	foldersFindCmd.Flags().StringVar(&foldersParentID, "parent", "", "Parent folder ID (top level by default)")

	foldersCmd.AddCommand(foldersCreateCmd)
	foldersCmd.AddCommand(foldersListCmd)
	foldersCmd.AddCommand(foldersFindCmd)
	rootCmd.AddCommand(foldersCmd)
}

func runFoldersCreate(cmd *cobra.Command, args []string) error {
	ctx, cancel := withTimeout(cmd.Context())
	defer cancel()

	s, err := newSession(ctx, types.RequestTypeMutation)
	if err != nil {
		return err
	}
	mgr := folders.NewManager(s.client)

	if foldersIfAbsent {
		if foldersParentID != "" {
			return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
				"--if-absent only applies to top-level folders").Build())
		}
		folder, created, err := mgr.CreateIfAbsent(ctx, s.reqCtx, args[0])
		if err != nil {
			return err
		}
		if !created {
			s.out.Log("Folder already exists: %s (%s)", folder.Name, folder.ID)
		}
		return s.out.WriteSuccess("folders.create", folder)
	}

	folder, err := mgr.Create(ctx, s.reqCtx, args[0], foldersParentID)
	if err != nil {
		return err
	}
	return s.out.WriteSuccess("folders.create", folder)
}

func runFoldersList(cmd *cobra.Command, args []string) error {
	ctx, cancel := withTimeout(cmd.Context())
	defer cancel()

	s, err := newSession(ctx, types.RequestTypeListOrSearch)
	if err != nil {
		return err
	}

	folderID := "root"
	if s.flags.DriveID != "" {
		folderID = s.flags.DriveID
	}
	if len(args) == 1 {
		if folderID, err = s.resolveFileID(args[0]); err != nil {
			return err
		}
	}

	result, err := folders.NewManager(s.client).List(ctx, s.reqCtx, folderID, foldersPageSize, foldersPageToken)
	if err != nil {
		return err
	}
	return s.out.WriteSuccess("folders.list", result)
}

func runFoldersFind(cmd *cobra.Command, args []string) error {
	ctx, cancel := withTimeout(cmd.Context())
	defer cancel()

	s, err := newSession(ctx, types.RequestTypeListOrSearch)
	if err != nil {
		return err
	}
	mgr := folders.NewManager(s.client)

	if foldersParentID == "" {
		folder, err := mgr.FindByName(ctx, s.reqCtx, args[0])
		if err != nil {
			return err
		}
		return s.out.WriteSuccess("folders.find", folder)
	}

	folder, err := mgr.FindChild(ctx, s.reqCtx, foldersParentID, args[0])
	if err != nil {
		return err
	}
	if folder == nil {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeFolderNotFound,
			"No folder named '"+args[0]+"' found").
			WithContext("parentId", foldersParentID).Build())
	}
	return s.out.WriteSuccess("folders.find", folder)
}
