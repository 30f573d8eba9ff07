// Package media extracts mono audio tracks from uploaded videos so the
// transcription provider only has to move a fraction of the bytes.
package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/classmate-app/classmate/internal/core"
)

// FFmpegExtractor shells out to ffmpeg. The video is streamed from object
// storage to a temp file, converted to 16 kHz mono wav, and the result is
// uploaded back next to the source under an .audio.wav suffix.
type FFmpegExtractor struct {
	bin     string
	objects core.ObjectClient
}

func NewFFmpegExtractor(bin string, objects core.ObjectClient) *FFmpegExtractor {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpegExtractor{bin: bin, objects: objects}
}

func (f *FFmpegExtractor) ExtractAudio(ctx context.Context, bucket string, videoKey string) (string, error) {
	log := zerolog.Ctx(ctx)

	dir, err := os.MkdirTemp("", "classmate-audio-*")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	srcPath := filepath.Join(dir, "source"+filepath.Ext(videoKey))
	if err := f.download(ctx, bucket, videoKey, srcPath); err != nil {
		return "", err
	}

	outPath := filepath.Join(dir, "audio.wav")
	cmd := exec.CommandContext(ctx, f.bin,
		"-y",
		"-i", srcPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		outPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		log.Error().Err(err).Str("key", videoKey).Msg("ffmpeg failed")
		return "", fmt.Errorf("ffmpeg extract audio: %w: %s", err, tail(string(out), 512))
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return "", fmt.Errorf("read extracted audio: %w", err)
	}

	audioKey := audioKeyFor(videoKey)
	if _, err := f.objects.UploadFile(ctx, bucket, audioKey, data, "audio/wav"); err != nil {
		return "", fmt.Errorf("upload extracted audio: %w", err)
	}

	log.Info().Str("video_key", videoKey).Str("audio_key", audioKey).Int("bytes", len(data)).Msg("audio extracted")
	return audioKey, nil
}

func (f *FFmpegExtractor) download(ctx context.Context, bucket, key, dest string) error {
	rc, err := f.objects.GetObjectReader(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("download video %s: %w", key, err)
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := out.ReadFrom(rc); err != nil {
		return fmt.Errorf("write video to disk: %w", err)
	}
	return nil
}

func audioKeyFor(videoKey string) string {
	base := strings.TrimSuffix(videoKey, filepath.Ext(videoKey))
	return base + ".audio.wav"
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

var _ core.AudioExtractor = (*FFmpegExtractor)(nil)
