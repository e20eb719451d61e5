package ffmpeg

import (
	"context"
	"os/exec"
)

// CombinedOutput runs the binary at path and returns its combined stdout
// and stderr. The output is returned even when the command fails: FFmpeg
// exits non-zero for some valid operations (probing with a null muxer) and
// its stderr is where the useful data lives.
func CombinedOutput(ctx context.Context, path string, args []string) ([]byte, error) {
	// #nosec G204 -- path comes from internal resolution, not user input
	cmd := exec.CommandContext(ctx, path, args...)
	return cmd.CombinedOutput()
}
