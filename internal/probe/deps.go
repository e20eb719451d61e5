package probe

import (
	"context"
	"os"

	"github.com/dhowden/tag"

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

// tagReader reads embedded metadata tags from an audio file.
type tagReader interface {
	ReadTags(path string) (title, artist string, err error)
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

// dhowdenTagReader implements tagReader using the dhowden/tag library.
type dhowdenTagReader struct{}

func (dhowdenTagReader) ReadTags(path string) (string, string, error) {
	f, err := os.Open(path) // #nosec G304 -- path is validated by the caller
	if err != nil {
		return "", "", err
	}
	defer func() { _ = f.Close() }()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return "", "", err
	}
	return m.Title(), m.Artist(), nil
}
