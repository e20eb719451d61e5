package encode

import (
	"context"
	"os"

	"github.com/alnah/go-audiosplit/internal/ffmpeg"
)

// commandRunner executes external commands and returns their combined output.
type commandRunner interface {
	CombinedOutput(ctx context.Context, name string, args []string) ([]byte, error)
}

// fileStatter retrieves file information.
type fileStatter interface {
	Stat(name string) (os.FileInfo, error)
}

// fileMover removes files and renames completed output into place.
type fileMover interface {
	Remove(name string) error
	Rename(oldpath, newpath string) error
}

// --- Default implementations using real OS functions ---

// osCommandRunner implements commandRunner via the shared ffmpeg helper.
type osCommandRunner struct{}

func (osCommandRunner) CombinedOutput(ctx context.Context, name string, args []string) ([]byte, error) {
	return ffmpeg.CombinedOutput(ctx, name, args)
}

// osFileStatter implements fileStatter using os.Stat.
type osFileStatter struct{}

func (osFileStatter) Stat(name string) (os.FileInfo, error) {
	return os.Stat(name)
}

// osFileMover implements fileMover using os.Remove and os.Rename.
type osFileMover struct{}

func (osFileMover) Remove(name string) error            { return os.Remove(name) }
func (osFileMover) Rename(oldpath, newpath string) error { return os.Rename(oldpath, newpath) }
