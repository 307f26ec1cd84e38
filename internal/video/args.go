package video

import (
	"fmt"
	"strconv"
)

// audioFD is the descriptor the narration pipe gets in the child process:
// ExtraFiles[0] becomes fd 3.
const audioFD = 3

// DefaultCodec returns the video codec used when none is configured.
func DefaultCodec(c Container) string {
	if c == ContainerWebM {
		return "libvpx-vp9"
	}
	return "libx264"
}

func audioCodec(c Container) []string {
	if c == ContainerWebM {
		return []string{"-c:a", "libopus", "-b:a", "96k", "-ar", "48000"}
	}
	return []string{"-c:a", "aac", "-b:a", "128k"}
}

// buildArgs assembles the ffmpeg command line: raw RGBA frames on stdin,
// s16le narration on fd 3, a streamable container on stdout.
func buildArgs(spec StreamSpec, c Container, codec string, quality int) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-thread_queue_size", "512",
		"-f", "rawvideo",
		"-pixel_format", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", spec.Width, spec.Height),
		"-framerate", strconv.Itoa(spec.FPS),
		"-i", "pipe:0",
		"-thread_queue_size", "512",
		"-f", "s16le",
		"-ar", strconv.Itoa(spec.SampleRate),
		"-ac", strconv.Itoa(spec.Channels),
		"-i", fmt.Sprintf("pipe:%d", audioFD),
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-pix_fmt", "yuv420p",
		"-c:v", codec,
	}
	args = append(args, qualityArgs(codec, quality)...)
	args = append(args, "-g", strconv.Itoa(spec.FPS*2))
	args = append(args, audioCodec(c)...)

	switch c {
	case ContainerWebM:
		args = append(args, "-f", "webm")
	default:
		args = append(args, "-movflags", "frag_keyframe+empty_moov+default_base_moof", "-f", "mp4")
	}
	return append(args, "pipe:1")
}

func qualityArgs(codec string, quality int) []string {
	switch codec {
	case "h264_videotoolbox":
		// Bitrate in kbit/s: 75 -> 7.5 Mbit/s.
		return []string{"-b:v", fmt.Sprintf("%dk", quality*100)}
	case "h264_nvenc":
		return []string{"-cq", strconv.Itoa(quality)}
	case "libvpx-vp9":
		return []string{"-crf", strconv.Itoa(quality), "-b:v", "0", "-deadline", "realtime", "-cpu-used", "8"}
	default: // libx264
		return []string{"-crf", strconv.Itoa(quality), "-preset", "veryfast"}
	}
}
