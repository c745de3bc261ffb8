package avforge

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gookit/color"
	"github.com/segmentio/textio"
)

// Reporter provides feedback about the build progress to the user.
//
// Implementers beware: StageLog is called on the output hotpath of every external
// tool we run. Blocking there blocks the actual build.
type Reporter interface {
	// BuildStarted is called once, before the first stage runs
	BuildStarted(r *Recipe)

	// BuildFinished is called once the whole run is over. A nil error means the
	// runtime library directory is populated and the module imports.
	BuildFinished(err error)

	// StageStarted is called when a stage gets underway
	StageStarted(stage Stage)

	// StageLog is called whenever an external tool run by a stage produced output
	StageLog(stage Stage, isErr bool, buf []byte)

	// StageFinished is called when a stage is done. A non-nil error aborts the run.
	StageFinished(stage Stage, err error)
}

// ConsoleReporter reports build progress by printing to stdout/stderr
type ConsoleReporter struct {
	writer map[Stage]io.Writer
	times  map[Stage]time.Time
	mu     sync.RWMutex
}

// NewConsoleReporter produces a new console reporter
func NewConsoleReporter() *ConsoleReporter {
	return &ConsoleReporter{
		writer: make(map[Stage]io.Writer),
		times:  make(map[Stage]time.Time),
	}
}

// exclusiveWriter makes a writer an exclusive resource by protecting Write calls
// with a mutex.
type exclusiveWriter struct {
	O  io.Writer
	mu sync.Mutex
}

func (w *exclusiveWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.O.Write(p)
}

func (r *ConsoleReporter) getWriter(stage Stage) io.Writer {
	r.mu.RLock()
	res, ok := r.writer[stage]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		res, ok = r.writer[stage]
		if ok {
			// someone else was quicker in the meantime and created a new writer.
			r.mu.Unlock()
			return res
		}

		res = &exclusiveWriter{O: textio.NewPrefixWriter(os.Stdout, getStagePrefix(stage))}
		r.writer[stage] = res
		r.mu.Unlock()
	}

	return res
}

// BuildStarted is called once, before the first stage runs
func (r *ConsoleReporter) BuildStarted(rcp *Recipe) {
	color.Printf("<light_yellow>building %s</> <gray>(vendor %s)</>\n", rcp.Python.Module, rcp.Vendor.URL)
}

// BuildFinished is called once the whole run is over
func (r *ConsoleReporter) BuildFinished(err error) {
	if err != nil {
		color.Printf("<red>build failed</>\n<white>Reason:</> %s\n", err)
		return
	}

	color.Println("\n<green>build succeeded</>")
}

// StageStarted is called when a stage gets underway
func (r *ConsoleReporter) StageStarted(stage Stage) {
	out := r.getWriter(stage)

	r.mu.Lock()
	r.times[stage] = time.Now()
	r.mu.Unlock()

	_, _ = io.WriteString(out, color.Sprintf("<fg=yellow>started</>\n"))
}

// StageLog is called whenever an external tool run by a stage produced output
func (r *ConsoleReporter) StageLog(stage Stage, isErr bool, buf []byte) {
	out := r.getWriter(stage)
	_, _ = out.Write(buf)
}

// StageFinished is called when a stage is done
func (r *ConsoleReporter) StageFinished(stage Stage, err error) {
	out := r.getWriter(stage)

	r.mu.Lock()
	dur := time.Since(r.times[stage])
	delete(r.writer, stage)
	delete(r.times, stage)
	r.mu.Unlock()

	msg := color.Sprintf("<green>done</> <gray>(%.2fs)</>\n", dur.Seconds())
	if err != nil {
		msg = color.Sprintf("<red>failed</>\n<white>Reason:</> %s\n", err)
	}
	_, _ = io.WriteString(out, msg)
}

func getStagePrefix(stage Stage) string {
	return color.Gray.Render(fmt.Sprintf("[%s] ", stage))
}

// NoopReporter discards all progress information
type NoopReporter struct{}

func (NoopReporter) BuildStarted(r *Recipe)                      {}
func (NoopReporter) BuildFinished(err error)                     {}
func (NoopReporter) StageStarted(stage Stage)                    {}
func (NoopReporter) StageLog(stage Stage, isErr bool, buf []byte) {}
func (NoopReporter) StageFinished(stage Stage, err error)        {}
