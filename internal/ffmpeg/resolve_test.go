package ffmpeg_test

import (
	"errors"
	"io/fs"
	"os"
	"testing"

	"github.com/alnah/go-audiosplit/internal/ffmpeg"
)

// fakeEnv scripts environment and path lookups.
type fakeEnv struct {
	env      map[string]string
	pathHits map[string]string
	statErr  error
}

func (f fakeEnv) Getenv(key string) string { return f.env[key] }

func (f fakeEnv) LookPath(file string) (string, error) {
	if p, ok := f.pathHits[file]; ok {
		return p, nil
	}
	return "", errors.New("executable file not found in $PATH")
}

func (f fakeEnv) Stat(name string) (os.FileInfo, error) {
	if f.statErr != nil {
		return nil, f.statErr
	}
	return nil, nil
}

func TestResolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		env     fakeEnv
		want    string
		wantErr bool
	}{
		{
			name: "env override wins over PATH",
			env: fakeEnv{
				env:      map[string]string{"AUDIOSPLIT_FFMPEG": "/opt/ffmpeg/bin/ffmpeg"},
				pathHits: map[string]string{"ffmpeg": "/usr/bin/ffmpeg"},
			},
			want: "/opt/ffmpeg/bin/ffmpeg",
		},
		{
			name: "env override set but missing is an error",
			env: fakeEnv{
				env:      map[string]string{"AUDIOSPLIT_FFMPEG": "/nope/ffmpeg"},
				pathHits: map[string]string{"ffmpeg": "/usr/bin/ffmpeg"},
				statErr:  fs.ErrNotExist,
			},
			wantErr: true,
		},
		{
			name: "falls back to PATH",
			env: fakeEnv{
				pathHits: map[string]string{"ffmpeg": "/usr/bin/ffmpeg"},
			},
			want: "/usr/bin/ffmpeg",
		},
		{
			name:    "not found anywhere",
			env:     fakeEnv{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := ffmpeg.NewResolver(ffmpeg.WithEnvProvider(tt.env))
			got, err := r.Resolve()
			if tt.wantErr {
				if !errors.Is(err, ffmpeg.ErrNotFound) {
					t.Fatalf("Resolve() error = %v, want ErrNotFound", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}
