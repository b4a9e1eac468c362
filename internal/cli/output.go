package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/dl-alexandre/gdmirror/internal/types"
	"github.com/dl-alexandre/gdmirror/internal/utils"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
)

// OutputWriter writes command results as a JSON envelope or a table.
// Results go to stdout; logs and warnings go to stderr.
type OutputWriter struct {
	format   types.OutputFormat
	quiet    bool
	verbose  bool
	traceID  string
	stdout   io.Writer
	stderr   io.Writer
	warnings []types.CLIWarning
}

// NewOutputWriter creates a new output writer
func NewOutputWriter(format types.OutputFormat, quiet, verbose bool) *OutputWriter {
	return &OutputWriter{
		format:   format,
		quiet:    quiet,
		verbose:  verbose,
		traceID:  uuid.New().String(),
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		warnings: []types.CLIWarning{},
	}
}

// SetWriters redirects output, mainly for tests
func (w *OutputWriter) SetWriters(stdout, stderr io.Writer) {
	w.stdout = stdout
	w.stderr = stderr
}

// SetTraceID ties the envelope to the request trace of the command
func (w *OutputWriter) SetTraceID(traceID string) {
	if traceID != "" {
		w.traceID = traceID
	}
}

// AddWarning adds a warning to the output
func (w *OutputWriter) AddWarning(code, message, severity string) {
	w.warnings = append(w.warnings, types.CLIWarning{
		Code:     code,
		Message:  message,
		Severity: severity,
	})
}

// WriteSuccess writes a successful result
func (w *OutputWriter) WriteSuccess(command string, data interface{}) error {
	if w.format == types.OutputFormatJSON {
		return w.writeJSON(types.CLIOutput{
			SchemaVersion: utils.SchemaVersion,
			TraceID:       w.traceID,
			Command:       command,
			Data:          data,
			Warnings:      w.warnings,
			Errors:        []types.CLIError{},
		})
	}
	w.writeWarnings()
	return w.writeTable(data)
}

// WriteError writes an error result. JSON mode keeps the envelope on
// stdout so scripts can parse failures too.
func (w *OutputWriter) WriteError(command string, cliErr types.CLIError) error {
	if w.format == types.OutputFormatJSON {
		return w.writeJSON(types.CLIOutput{
			SchemaVersion: utils.SchemaVersion,
			TraceID:       w.traceID,
			Command:       command,
			Data:          nil,
			Warnings:      w.warnings,
			Errors:        []types.CLIError{cliErr},
		})
	}
	w.writeWarnings()
	_, err := fmt.Fprintf(w.stderr, "Error [%s]: %s\n", cliErr.Code, cliErr.Message)
	if err == nil && w.verbose {
		_, err = fmt.Fprintf(w.stderr, "Trace ID: %s\n", w.traceID)
	}
	return err
}

func (w *OutputWriter) writeJSON(output types.CLIOutput) error {
	encoder := json.NewEncoder(w.stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

func (w *OutputWriter) writeWarnings() {
	if w.quiet {
		return
	}
	for _, warning := range w.warnings {
		fmt.Fprintf(w.stderr, "Warning [%s]: %s\n", warning.Code, warning.Message)
	}
}

func (w *OutputWriter) writeTable(data interface{}) error {
	if renderable, ok := data.(types.TableRenderable); ok {
		return w.renderTable(renderable.AsTableRenderer())
	}
	if renderer, ok := data.(types.TableRenderer); ok {
		return w.renderTable(renderer)
	}

	switch v := data.(type) {
	case []*types.DriveFile:
		result := &types.FileListResult{Files: v}
		return w.renderTable(result.AsTableRenderer())
	case *types.DriveFile:
		return w.writeKeyValueTable(fileDetails(v))
	case map[string]interface{}:
		return w.writeKeyValueTable(v)
	default:
		return w.writeJSON(types.CLIOutput{
			SchemaVersion: utils.SchemaVersion,
			TraceID:       w.traceID,
			Data:          data,
			Warnings:      []types.CLIWarning{},
			Errors:        []types.CLIError{},
		})
	}
}

func (w *OutputWriter) renderTable(renderer types.TableRenderer) error {
	rows := renderer.Rows()
	if len(rows) == 0 {
		if !w.quiet {
			_, err := fmt.Fprintln(w.stdout, renderer.EmptyMessage())
			return err
		}
		return nil
	}

	table := w.newTable(renderer.Headers())
	for _, row := range rows {
		table.Append(row)
	}
	table.Render()

	if footer, ok := renderer.(interface{ Footer() string }); ok && footer.Footer() != "" && !w.quiet {
		_, err := fmt.Fprintln(w.stderr, footer.Footer())
		return err
	}
	return nil
}

func (w *OutputWriter) writeKeyValueTable(data map[string]interface{}) error {
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	table := w.newTable([]string{"Key", "Value"})
	for _, key := range keys {
		table.Append([]string{key, fmt.Sprintf("%v", data[key])})
	}
	table.Render()
	return nil
}

func (w *OutputWriter) newTable(headers []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w.stdout)
	table.SetHeader(headers)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	return table
}

// Log writes to stderr if not quiet
func (w *OutputWriter) Log(format string, args ...interface{}) {
	if !w.quiet {
		fmt.Fprintf(w.stderr, format+"\n", args...)
	}
}

// Verbose writes to stderr if verbose is enabled
func (w *OutputWriter) Verbose(format string, args ...interface{}) {
	if w.verbose {
		fmt.Fprintf(w.stderr, "[VERBOSE] "+format+"\n", args...)
	}
}

func fileDetails(f *types.DriveFile) map[string]interface{} {
	details := map[string]interface{}{
		"id":       f.ID,
		"name":     f.Name,
		"mimeType": f.MimeType,
		"parents":  f.Parents,
	}
	if f.Size > 0 {
		details["size"] = humanize.IBytes(uint64(f.Size))
	}
	if f.MD5Checksum != "" {
		details["md5Checksum"] = f.MD5Checksum
	}
	if f.ModifiedTime != "" {
		details["modifiedTime"] = f.ModifiedTime
	}
	if f.WebViewLink != "" {
		details["webViewLink"] = f.WebViewLink
	}
	if f.DriveID != "" {
		details["driveId"] = f.DriveID
	}
	return details
}
