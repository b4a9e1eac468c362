package cli

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/dl-alexandre/gdmirror/internal/exclude"
	"github.com/dl-alexandre/gdmirror/internal/logging"
	"github.com/dl-alexandre/gdmirror/internal/mirror"
	"github.com/dl-alexandre/gdmirror/internal/mirror/checkpoint"
	"github.com/dl-alexandre/gdmirror/internal/types"
	"github.com/dl-alexandre/gdmirror/internal/utils"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var mirrorCmd = &cobra.Command{
	Use:   "mirror <local-path> [remote-name]",
	Short: "Mirror a local directory tree into Google Drive",
	Long: `Mirror a local directory into a top-level Drive folder (named after the
directory unless remote-name is given). Every subdirectory becomes a Drive
folder and every file is uploaded into the folder of its directory.

Policies:
  create  create a new folder for every subdirectory on each run
  reuse   reuse same-named folders and skip files whose name and MD5 match

With --resume a local journal records finished work so an interrupted
run continues where it stopped.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runMirror,
}

var sizeCmd = &cobra.Command{
	Use:   "size <local-path>",
	Short: "Report the bytes a mirror of local-path would upload",
	Args:  cobra.ExactArgs(1),
	RunE:  runSize,
}

var (
	mirrorPolicy          string
	mirrorConcurrency     int
	mirrorExclude         []string
	mirrorDefaultExcludes bool
	mirrorCheckpoint      string
	mirrorResume          bool
	mirrorRestart         bool
	mirrorMimeType        string
)

func init() {
	mirrorCmd.Flags().StringVar(&mirrorPolicy, "policy", "", "Folder policy: create or reuse (default from config)")
	mirrorCmd.Flags().IntVar(&mirrorConcurrency, "concurrency", 0, "Files of one directory uploaded in parallel (default from config)")
	addExcludeFlags(mirrorCmd)
	mirrorCmd.Flags().StringVar(&mirrorCheckpoint, "checkpoint", "", "Journal database path (implies --resume)")
	mirrorCmd.Flags().BoolVar(&mirrorResume, "resume", false, "Record progress and skip work finished by an earlier run")
	mirrorCmd.Flags().BoolVar(&mirrorRestart, "restart", false, "Forget the journal of this run before starting")
	mirrorCmd.Flags().StringVar(&mirrorMimeType, "mime-type", "", "MIME type sent for every file")

	addExcludeFlags(sizeCmd)

	rootCmd.AddCommand(mirrorCmd)
	rootCmd.AddCommand(sizeCmd)
}

func addExcludeFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&mirrorExclude, "exclude", nil, "Glob patterns to skip; a trailing / matches directories")
	cmd.Flags().BoolVar(&mirrorDefaultExcludes, "default-excludes", false, "Also skip VCS metadata and OS junk files")
}

// excludeMatcher merges config and flag patterns
func excludeMatcher(cmd *cobra.Command) *exclude.Matcher {
	patterns := append([]string{}, appConfig.ExcludePatterns...)
	patterns = append(patterns, mirrorExclude...)
	withDefaults := appConfig.DefaultExcludes
	if cmd.Flags().Changed("default-excludes") {
		withDefaults = mirrorDefaultExcludes
	}
	if len(patterns) == 0 && !withDefaults {
		return nil
	}
	return exclude.New(patterns, withDefaults)
}

// mirrorOptions resolves flag values over config defaults
func mirrorOptions(cmd *cobra.Command) (mirror.Options, error) {
	policyName := appConfig.MirrorPolicy
	if mirrorPolicy != "" {
		policyName = mirrorPolicy
	}
	policy, err := mirror.ParsePolicy(policyName)
	if err != nil {
		return mirror.Options{}, err
	}

	concurrency := appConfig.MirrorConcurrency
	if cmd.Flags().Changed("concurrency") {
		concurrency = mirrorConcurrency
	}
	if concurrency < 1 {
		return mirror.Options{}, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			"--concurrency must be at least 1").Build())
	}

	return mirror.Options{
		Policy:      policy,
		Concurrency: concurrency,
		Exclude:     excludeMatcher(cmd),
		MimeType:    mirrorMimeType,
	}, nil
}

// remoteNameFor defaults the Drive folder name to the local directory name
func remoteNameFor(localPath string, args []string) (string, error) {
	if len(args) > 1 {
		name := strings.TrimSpace(args[1])
		if name == "" {
			return "", utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
				"remote name must not be empty").Build())
		}
		return name, nil
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidPath, err.Error()).Build())
	}
	name := filepath.Base(abs)
	if name == string(filepath.Separator) || name == "." || name == "" {
		return "", utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			"cannot derive a folder name from "+localPath+"; pass remote-name").Build())
	}
	return name, nil
}

func runMirror(cmd *cobra.Command, args []string) error {
	ctx, cancel := withTimeout(cmd.Context())
	defer cancel()

	opts, err := mirrorOptions(cmd)
	if err != nil {
		return err
	}
	remoteName, err := remoteNameFor(args[0], args)
	if err != nil {
		return err
	}

	s, err := newSession(ctx, types.RequestTypeMirror)
	if err != nil {
		return err
	}
	opts.Reporter = newMirrorReporter(s.out)

	if mirrorResume || mirrorCheckpoint != "" {
		store, err := openCheckpoint()
		if err != nil {
			return err
		}
		defer store.Close()
		opts.Checkpoint = store

		if mirrorRestart {
			key, err := mirror.CheckpointKey(args[0], remoteName)
			if err != nil {
				return err
			}
			if err := store.Reset(ctx, key); err != nil {
				return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInternalError, err.Error()).Build())
			}
		}
	}

	result, err := mirror.New(mirror.NewDriveRemote(s.client, s.reqCtx), opts, logger.WithTraceID(s.reqCtx.TraceID)).
		Run(ctx, args[0], remoteName)
	if err != nil {
		return err
	}

	s.out.Log("Mirrored %s into '%s' (%s)", humanize.IBytes(uint64(result.TotalBytes)), result.RemoteName, result.RootID)
	if s.flags.OutputFormat == types.OutputFormatJSON {
		return s.out.WriteSuccess("mirror", result)
	}
	return s.out.WriteSuccess("mirror", map[string]interface{}{
		"rootId":     result.RootID,
		"remoteName": result.RemoteName,
		"total":      humanize.IBytes(uint64(result.TotalBytes)),
		"uploaded":   humanize.IBytes(uint64(result.UploadedBytes)),
		"files":      result.Files,
		"folders":    result.Folders,
		"skipped":    result.Skipped,
		"duration":   result.Duration.Round(time.Millisecond).String(),
	})
}

func openCheckpoint() (*checkpoint.Store, error) {
	path := mirrorCheckpoint
	if path == "" {
		var err error
		if path, err = appConfig.GetCheckpointPath(); err != nil {
			return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInternalError, err.Error()).Build())
		}
	}
	store, err := checkpoint.Open(path)
	if err != nil {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInternalError,
			"Cannot open checkpoint journal: "+err.Error()).
			WithContext("path", path).Build())
	}
	logger.Debug("Checkpoint journal opened", logging.F("path", path))
	return store, nil
}

func runSize(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	total, err := mirror.TreeSize(args[0], excludeMatcher(cmd))
	if err != nil {
		return err
	}
	return out.WriteSuccess("size", map[string]interface{}{
		"path":  args[0],
		"bytes": total,
		"human": humanize.IBytes(uint64(total)),
	})
}
