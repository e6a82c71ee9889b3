package agent

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"
)

const (
	captureFPS   = "15"
	captureScale = "scale=1280:720"
)

// FFmpegLauncher captures the desktop with ffmpeg.
type FFmpegLauncher struct {
	Path string
	// GOOS selects the capture device; empty means runtime.GOOS.
	GOOS string
	// Input overrides the device input (desktop, $DISPLAY, 1:none).
	Input string
}

// Args returns the ffmpeg arguments for one bounded capture.
func (l FFmpegLauncher) Args(output string, limit time.Duration) []string {
	goos := l.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}

	var args []string
	switch goos {
	case "windows":
		args = []string{"-f", "gdigrab", "-framerate", captureFPS, "-i", firstNonEmpty(l.Input, "desktop")}
	case "darwin":
		args = []string{"-f", "avfoundation", "-framerate", captureFPS, "-i", firstNonEmpty(l.Input, "1:none")}
	default:
		args = []string{"-f", "x11grab", "-framerate", captureFPS, "-i", firstNonEmpty(l.Input, os.Getenv("DISPLAY"), ":0.0")}
	}

	secs := int(limit.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return append(args,
		"-t", strconv.Itoa(secs),
		"-vf", captureScale,
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-crf", "28",
		"-pix_fmt", "yuv420p",
		"-y",
		output,
	)
}

func (l FFmpegLauncher) Launch(output string, limit time.Duration) (Process, error) {
	cmd := exec.Command(l.path(), l.Args(output, limit)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd, stdin: stdin}, nil
}

// Check runs "ffmpeg -version" to confirm the binary is usable.
func (l FFmpegLauncher) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, l.path(), "-version").Run(); err != nil {
		return &ProcessError{Op: "check", Err: fmt.Errorf("%s: %w", l.path(), err)}
	}
	return nil
}

func (l FFmpegLauncher) path() string {
	return firstNonEmpty(l.Path, "ffmpeg")
}

type execProcess struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	once  sync.Once
}

// Terminate sends ffmpeg's interactive quit command so it finalizes the
// container before exiting.
func (p *execProcess) Terminate() error {
	var err error
	p.once.Do(func() {
		_, err = io.WriteString(p.stdin, "q\n")
		if cerr := p.stdin.Close(); err == nil {
			err = cerr
		}
	})
	return err
}

func (p *execProcess) Kill() error { return p.cmd.Process.Kill() }

func (p *execProcess) Wait() error { return p.cmd.Wait() }

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
