package system

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ErrFFmpegNotFound is returned when no ffmpeg binary can be located.
var ErrFFmpegNotFound = errors.New("ffmpeg not found")

// InitResourceLimits raises the open-file soft limit to 2048 where allowed.
func InitResourceLimits(logger *zap.Logger) {
	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		logger.Warn("read open file limit", zap.Error(err))
		return
	}

	want := uint64(2048)
	if want > rLimit.Max {
		want = rLimit.Max
	}
	if rLimit.Cur >= want {
		return
	}
	rLimit.Cur = want

	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		logger.Warn("raise open file limit", zap.Error(err))
		return
	}
	logger.Debug("open file limit raised", zap.Uint64("limit", rLimit.Cur))
}

// LookupFFmpeg resolves the ffmpeg binary, defaulting to "ffmpeg" on PATH.
func LookupFFmpeg(path string) (string, error) {
	if path == "" {
		path = "ffmpeg"
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFFmpegNotFound, err)
	}
	return resolved, nil
}

// Encoders lists the encoder names a given ffmpeg build supports.
func Encoders(ctx context.Context, ffmpegPath string) (map[string]bool, error) {
	// #nosec G204 - ffmpegPath is resolved by LookupFFmpeg
	cmd := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-encoders")
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("list ffmpeg encoders: %w", err)
	}
	return parseEncoders(out.String()), nil
}

// parseEncoders reads the table printed by `ffmpeg -encoders`, e.g.
// " V....D libx264              libx264 H.264 / AVC ...".
func parseEncoders(output string) map[string]bool {
	encoders := make(map[string]bool)
	pastHeader := false
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "------" {
			pastHeader = true
			continue
		}
		fields := strings.Fields(line)
		if !pastHeader || len(fields) < 2 {
			continue
		}
		encoders[fields[1]] = true
	}
	return encoders
}

// BestH264Encoder picks a hardware H.264 encoder when one is available.
// Priority: VideoToolbox (macOS), NVENC (NVIDIA), then libx264.
func BestH264Encoder(available map[string]bool) string {
	for _, name := range []string{"h264_videotoolbox", "h264_nvenc"} {
		if available[name] {
			return name
		}
	}
	return "libx264"
}

// DefaultQuality returns the quality value that suits each video encoder.
func DefaultQuality(encoder string) int {
	switch encoder {
	case "h264_videotoolbox":
		return 75
	case "h264_nvenc":
		return 28
	case "libvpx-vp9":
		return 32
	default:
		return 23
	}
}

// FindLatest returns the most recently modified file in dir whose extension
// matches one of exts.
func FindLatest(dir string, exts ...string) (string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var latestFile string
	var latestTime time.Time

	for _, f := range files {
		if f.IsDir() || !hasExt(f.Name(), exts) {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(latestTime) {
			latestTime = info.ModTime()
			latestFile = filepath.Join(dir, f.Name())
		}
	}

	if latestFile == "" {
		return "", fmt.Errorf("no %s files in %s", strings.Join(exts, "/"), dir)
	}
	return latestFile, nil
}

func hasExt(name string, exts []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range exts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
