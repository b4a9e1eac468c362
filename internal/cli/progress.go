package cli

import (
	"fmt"
	"sync"

	"github.com/dl-alexandre/gdmirror/internal/files"
	"github.com/dl-alexandre/gdmirror/internal/mirror"
	"github.com/dustin/go-humanize"
)

// transferProgress prints a single updating line for one transfer
func transferProgress(out *OutputWriter, label string) files.ProgressFunc {
	if out.quiet {
		return nil
	}
	last := -1
	return func(current, total int64) {
		pct := 100
		if total > 0 {
			pct = int(current * 100 / total)
		}
		if pct == last {
			return
		}
		last = pct
		fmt.Fprintf(out.stderr, "\r%s %s / %s (%d%%)", label,
			humanize.IBytes(uint64(current)), humanize.IBytes(uint64(total)), pct)
		if current >= total {
			fmt.Fprintln(out.stderr)
		}
	}
}

// mirrorReporter prints one line per mirrored file. Concurrent uploads
// report from several goroutines, so writes are serialized.
type mirrorReporter struct {
	mu  sync.Mutex
	out *OutputWriter
}

func newMirrorReporter(out *OutputWriter) mirror.Reporter {
	return &mirrorReporter{out: out}
}

func (r *mirrorReporter) Report(e mirror.Event) {
	if r.out.quiet {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	status := "uploaded"
	if e.Skipped {
		status = "skipped"
	}
	fmt.Fprintf(r.out.stderr, "[%5.1f%%] %s %s (%s)\n", e.Percent, status, e.RelativePath, humanize.IBytes(uint64(e.Bytes)))
}
