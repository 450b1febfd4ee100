package transcode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/estatelink/estatelink-backend/pkg/config"
	"github.com/estatelink/estatelink-backend/pkg/enums"
	pkgerrors "github.com/estatelink/estatelink-backend/pkg/errors"
	"github.com/estatelink/estatelink-backend/pkg/logger"
)

// Tier size thresholds for RecommendTier.
const (
	lowTierBytes    = 100 * 1024 * 1024
	mediumTierBytes = 50 * 1024 * 1024
)

// Metadata describes a probed video.
type Metadata struct {
	Duration  time.Duration `json:"duration"`
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	FPS       float64       `json:"fps"`
	Bitrate   int64         `json:"bitrate"`
	Codec     string        `json:"codec"`
	SizeBytes int64         `json:"sizeBytes"`
}

// commandRunner abstracts tool invocation so tests can substitute a fake.
type commandRunner interface {
	Run(ctx context.Context, dir, name string, args ...string) (stdout []byte, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	err := cmd.Run()
	return out.Bytes(), errBuf.Bytes(), err
}

// Transcoder shells out to ffmpeg and ffprobe with explicit argv. Every call
// works inside a per-call temp directory that is removed on all exit paths.
type Transcoder struct {
	cfg    config.MediaConfig
	logg   *logger.Logger
	runner commandRunner
}

func NewTranscoder(cfg config.MediaConfig, logg *logger.Logger) (*Transcoder, error) {
	if cfg.FFmpegPath == "" || cfg.FFprobePath == "" {
		return nil, fmt.Errorf("ffmpeg and ffprobe paths required")
	}
	if cfg.ProcessTimeout <= 0 {
		return nil, fmt.Errorf("process timeout required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Transcoder{cfg: cfg, logg: logg, runner: execRunner{}}, nil
}

// RecommendTier picks a compression tier from the source size. Larger inputs
// get more aggressive compression.
func RecommendTier(sizeBytes int64) enums.QualityTier {
	switch {
	case sizeBytes > lowTierBytes:
		return enums.QualityTierLow
	case sizeBytes > mediumTierBytes:
		return enums.QualityTierMedium
	default:
		return enums.QualityTierHigh
	}
}

// Probe extracts container and stream metadata from an in-memory video.
func (t *Transcoder) Probe(ctx context.Context, buf []byte) (*Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.ProcessTimeout)
	defer cancel()

	dir, inputPath, cleanup, err := t.stageInput(buf, "input.bin")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	stdout, stderr, err := t.runner.Run(ctx, dir, t.cfg.FFprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		inputPath,
	)
	if err != nil {
		return nil, t.toolError(ctx, "ffprobe", stderr, err)
	}

	meta, err := parseProbeOutput(stdout)
	if err != nil {
		return nil, err
	}
	meta.SizeBytes = int64(len(buf))
	return meta, nil
}

// ExtractThumbnail grabs a single frame as JPEG. The timestamp is clamped into
// the video's duration and quality runs 1-100 (higher is better).
func (t *Transcoder) ExtractThumbnail(ctx context.Context, buf []byte, at time.Duration, width, height, quality int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "thumbnail dimensions must be positive")
	}

	meta, err := t.Probe(ctx, buf)
	if err != nil {
		return nil, err
	}
	at = clampTimestamp(at, meta.Duration)

	ctx, cancel := context.WithTimeout(ctx, t.cfg.ProcessTimeout)
	defer cancel()

	dir, inputPath, cleanup, err := t.stageInput(buf, "input.bin")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	outPath := filepath.Join(dir, "thumbnail.jpg")
	_, stderr, err := t.runner.Run(ctx, dir, t.cfg.FFmpegPath,
		"-ss", formatSeconds(at),
		"-i", inputPath,
		"-vframes", "1",
		"-vf", fmt.Sprintf("scale=%d:%d", width, height),
		"-q:v", strconv.Itoa(jpegQuality(quality)),
		"-y",
		outPath,
	)
	if err != nil {
		return nil, t.toolError(ctx, "ffmpeg thumbnail", stderr, err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeProcessing, err, "reading thumbnail output")
	}
	return data, nil
}

// Compress re-encodes a video at the given tier and returns the MP4 bytes.
func (t *Transcoder) Compress(ctx context.Context, buf []byte, tier enums.QualityTier) ([]byte, error) {
	params, ok := tierParams[tier]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown quality tier %q", tier))
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.ProcessTimeout)
	defer cancel()

	dir, inputPath, cleanup, err := t.stageInput(buf, "input.bin")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	outPath := filepath.Join(dir, "compressed.mp4")
	_, stderr, err := t.runner.Run(ctx, dir, t.cfg.FFmpegPath,
		"-i", inputPath,
		"-c:v", "libx264",
		"-preset", params.preset,
		"-crf", strconv.Itoa(params.crf),
		"-maxrate", params.maxrate,
		"-bufsize", params.bufsize,
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		"-y",
		outPath,
	)
	if err != nil {
		return nil, t.toolError(ctx, "ffmpeg compress", stderr, err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeProcessing, err, "reading compressed output")
	}
	return data, nil
}

type encodeParams struct {
	crf     int
	preset  string
	maxrate string
	bufsize string
}

var tierParams = map[enums.QualityTier]encodeParams{
	enums.QualityTierLow:    {crf: 32, preset: "veryfast", maxrate: "1000k", bufsize: "2000k"},
	enums.QualityTierMedium: {crf: 26, preset: "fast", maxrate: "2500k", bufsize: "5000k"},
	enums.QualityTierHigh:   {crf: 20, preset: "medium", maxrate: "5000k", bufsize: "10000k"},
}

// stageInput creates the per-call temp dir and writes the source bytes into
// it. The returned cleanup removes the whole directory.
func (t *Transcoder) stageInput(buf []byte, name string) (dir, inputPath string, cleanup func(), err error) {
	dir, err = os.MkdirTemp(t.cfg.TempDir, "transcode-"+uuid.NewString())
	if err != nil {
		return "", "", nil, pkgerrors.Wrap(pkgerrors.CodeProcessing, err, "creating transcode workspace")
	}
	cleanup = func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			t.logg.Warn(context.Background(), "transcode workspace cleanup failed")
		}
	}

	inputPath = filepath.Join(dir, name)
	if err := os.WriteFile(inputPath, buf, 0o600); err != nil {
		cleanup()
		return "", "", nil, pkgerrors.Wrap(pkgerrors.CodeProcessing, err, "staging transcode input")
	}
	return dir, inputPath, cleanup, nil
}

func (t *Transcoder) toolError(ctx context.Context, tool string, stderr []byte, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return pkgerrors.Wrap(pkgerrors.CodeProcessingTimeout, err, tool+" timed out")
	}
	detail := strings.TrimSpace(string(stderr))
	if detail != "" {
		return pkgerrors.Wrap(pkgerrors.CodeProcessing, fmt.Errorf("%w: %s", err, truncate(detail, 1024)), tool+" failed")
	}
	return pkgerrors.Wrap(pkgerrors.CodeProcessing, err, tool+" failed")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// jpegQuality maps the 1-100 API scale onto ffmpeg's inverted 2-31 -q:v scale.
func jpegQuality(quality int) int {
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}
	return 31 - (quality-1)*29/99
}

func clampTimestamp(at, duration time.Duration) time.Duration {
	if at <= 0 {
		return 0
	}
	// An unknown duration cannot bound the seek, so grab the first frame
	// rather than risk seeking past EOF and getting none.
	if duration <= 0 {
		return 0
	}
	if at >= duration {
		return duration - time.Millisecond
	}
	return at
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

type probePayload struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
}

func parseProbeOutput(stdout []byte) (*Metadata, error) {
	var payload probePayload
	if err := json.Unmarshal(stdout, &payload); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeProcessing, err, "parsing ffprobe output")
	}

	meta := &Metadata{}
	found := false
	for _, stream := range payload.Streams {
		if stream.CodecType != "video" {
			continue
		}
		found = true
		meta.Width = stream.Width
		meta.Height = stream.Height
		meta.Codec = stream.CodecName
		meta.FPS = parseFrameRate(stream.RFrameRate)
		break
	}
	if !found {
		return nil, pkgerrors.New(pkgerrors.CodeProcessing, "no video stream found")
	}

	if payload.Format.Duration != "" {
		seconds, err := strconv.ParseFloat(payload.Format.Duration, 64)
		if err == nil {
			meta.Duration = time.Duration(seconds * float64(time.Second))
		}
	}
	if payload.Format.BitRate != "" {
		if bitrate, err := strconv.ParseInt(payload.Format.BitRate, 10, 64); err == nil {
			meta.Bitrate = bitrate
		}
	}
	return meta, nil
}

// parseFrameRate handles ffprobe's rational "30000/1001" form.
func parseFrameRate(raw string) float64 {
	num, den, ok := strings.Cut(raw, "/")
	if !ok {
		v, _ := strconv.ParseFloat(raw, 64)
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}
