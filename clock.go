package qbt

import (
	"context"
	"io/fs"
	"os"
	"time"
)

// Clock supplies the current time for session expiry checks.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// FileSystem gives read-only access to attachment paths.
type FileSystem interface {
	Stat(name string) (fs.FileInfo, error)
	ReadFile(name string) ([]byte, error)
}

type osFileSystem struct{}

func (osFileSystem) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) }

func (osFileSystem) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
