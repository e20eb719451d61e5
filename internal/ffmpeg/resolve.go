package ffmpeg

import (
	"fmt"
	"os"
	"os/exec"
)

// Environment variable for a custom ffmpeg path.
const envFFmpegPath = "AUDIOSPLIT_FFMPEG"

// envProvider abstracts environment and path lookup operations.
type envProvider interface {
	Getenv(key string) string
	LookPath(file string) (string, error)
	Stat(name string) (os.FileInfo, error)
}

// osEnvProvider implements envProvider using the os and exec packages.
type osEnvProvider struct{}

func (osEnvProvider) Getenv(key string) string              { return os.Getenv(key) }
func (osEnvProvider) LookPath(file string) (string, error)  { return exec.LookPath(file) }
func (osEnvProvider) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }

// Resolver locates the ffmpeg binary.
type Resolver struct {
	env envProvider
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithEnvProvider sets a custom environment provider (for testing).
func WithEnvProvider(env envProvider) ResolverOption {
	return func(r *Resolver) { r.env = env }
}

// NewResolver creates a Resolver with the given options.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{env: osEnvProvider{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve finds ffmpeg using the following precedence:
//  1. AUDIOSPLIT_FFMPEG environment variable (error if set but invalid)
//  2. System PATH
func (r *Resolver) Resolve() (string, error) {
	if envPath := r.env.Getenv(envFFmpegPath); envPath != "" {
		if _, err := r.env.Stat(envPath); err != nil {
			return "", fmt.Errorf("%w: %s is set to %q but binary not found",
				ErrNotFound, envFFmpegPath, envPath)
		}
		return envPath, nil
	}

	if path, err := r.env.LookPath("ffmpeg"); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("%w: install ffmpeg or set %s", ErrNotFound, envFFmpegPath)
}

// Resolve finds ffmpeg using the default resolver.
func Resolve() (string, error) {
	return NewResolver().Resolve()
}
