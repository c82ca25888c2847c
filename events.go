package understory

import "context"

// Editor-facing events. Hosts deliver these on a channel to Serve, which
// dispatches them on a single goroutine; the handlers themselves fan
// long-running work (builds, rescans) out to background jobs, so the loop
// stays responsive.

// Event is an editor event consumed by the engine.
type Event interface {
	isEvent()
}

// FileSavedEvent reports that the editor wrote a buffer to disk.
type FileSavedEvent struct {
	Path string
}

// FileOpenedEvent reports that a file was opened.
type FileOpenedEvent struct {
	Path string
}

// ProjectLoadedEvent asks the engine to (re)load the project enclosing Path.
type ProjectLoadedEvent struct {
	Path string
}

// ToolchainChangedEvent switches the active toolchain.
type ToolchainChangedEvent struct {
	Name string
}

func (FileSavedEvent) isEvent()        {}
func (FileOpenedEvent) isEvent()       {}
func (ProjectLoadedEvent) isEvent()    {}
func (ToolchainChangedEvent) isEvent() {}

// Serve consumes events until the channel closes or ctx is cancelled.
// Queries (Diagnostics, Completions, TypeAt, Format) are ordinary method
// calls and do not go through the event loop.
func (e *Engine) Serve(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			e.dispatch(ctx, ev)
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, ev Event) {
	switch ev := ev.(type) {
	case FileSavedEvent:
		e.FileSaved(ctx, ev.Path)
	case FileOpenedEvent:
		e.FileOpened(ctx, ev.Path)
	case ProjectLoadedEvent:
		_ = e.LoadProject(ctx, ev.Path)
	case ToolchainChangedEvent:
		_ = e.SetToolchain(ctx, ev.Name)
	}
}
