package transcode

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/estatelink/estatelink-backend/pkg/config"
	"github.com/estatelink/estatelink-backend/pkg/enums"
	pkgerrors "github.com/estatelink/estatelink-backend/pkg/errors"
	"github.com/estatelink/estatelink-backend/pkg/logger"
)

const probeJSON = `{
	"streams": [
		{"codec_type": "audio", "codec_name": "aac"},
		{"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080, "r_frame_rate": "30000/1001"}
	],
	"format": {"duration": "12.500000", "bit_rate": "4500000"}
}`

type fakeRunner struct {
	calls   [][]string
	dirs    []string
	handler func(call []string, dir string) ([]byte, []byte, error)
}

func (f *fakeRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	call := append([]string{name}, args...)
	f.calls = append(f.calls, call)
	f.dirs = append(f.dirs, dir)
	return f.handler(call, dir)
}

func newTestTranscoder(t *testing.T, runner commandRunner) *Transcoder {
	t.Helper()
	cfg := config.MediaConfig{
		FFmpegPath:     "ffmpeg",
		FFprobePath:    "ffprobe",
		ProcessTimeout: 30 * time.Second,
		TempDir:        t.TempDir(),
	}
	tc, err := NewTranscoder(cfg, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	if err != nil {
		t.Fatalf("NewTranscoder() error = %v", err)
	}
	tc.runner = runner
	return tc
}

func hasArgPair(call []string, flag, value string) bool {
	for i := 0; i < len(call)-1; i++ {
		if call[i] == flag && call[i+1] == value {
			return true
		}
	}
	return false
}

func argValue(t *testing.T, call []string, flag string) string {
	t.Helper()
	for i := 0; i < len(call)-1; i++ {
		if call[i] == flag {
			return call[i+1]
		}
	}
	t.Fatalf("flag %s not found in %v", flag, call)
	return ""
}

func TestRecommendTier(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		size int64
		want enums.QualityTier
	}{
		{"small clip", 10 * 1024 * 1024, enums.QualityTierHigh},
		{"exactly 50MB", 50 * 1024 * 1024, enums.QualityTierHigh},
		{"just over 50MB", 50*1024*1024 + 1, enums.QualityTierMedium},
		{"exactly 100MB", 100 * 1024 * 1024, enums.QualityTierMedium},
		{"just over 100MB", 100*1024*1024 + 1, enums.QualityTierLow},
		{"huge", 900 * 1024 * 1024, enums.QualityTierLow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := RecommendTier(tc.size); got != tc.want {
				t.Errorf("RecommendTier(%d) = %v, want %v", tc.size, got, tc.want)
			}
		})
	}
}

func TestProbeParsesVideoStream(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{handler: func([]string, string) ([]byte, []byte, error) {
		return []byte(probeJSON), nil, nil
	}}
	tc := newTestTranscoder(t, runner)

	buf := make([]byte, 1234)
	meta, err := tc.Probe(context.Background(), buf)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if meta.Width != 1920 || meta.Height != 1080 {
		t.Errorf("dimensions = %dx%d", meta.Width, meta.Height)
	}
	if meta.Codec != "h264" {
		t.Errorf("codec = %q", meta.Codec)
	}
	if meta.Duration != 12500*time.Millisecond {
		t.Errorf("duration = %v", meta.Duration)
	}
	if meta.Bitrate != 4500000 {
		t.Errorf("bitrate = %d", meta.Bitrate)
	}
	if meta.SizeBytes != 1234 {
		t.Errorf("sizeBytes = %d", meta.SizeBytes)
	}
	if meta.FPS < 29.9 || meta.FPS > 30.0 {
		t.Errorf("fps = %v", meta.FPS)
	}
}

func TestProbeRejectsNonVideo(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{handler: func([]string, string) ([]byte, []byte, error) {
		return []byte(`{"streams": [{"codec_type": "audio"}], "format": {"duration": "3.0"}}`), nil, nil
	}}
	tc := newTestTranscoder(t, runner)

	_, err := tc.Probe(context.Background(), []byte("not-a-video"))
	if !pkgerrors.HasCode(err, pkgerrors.CodeProcessing) {
		t.Fatalf("Probe() error = %v, want CodeProcessing", err)
	}
}

func TestProbeCapturesStderr(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{handler: func([]string, string) ([]byte, []byte, error) {
		return nil, []byte("moov atom not found"), errors.New("exit status 1")
	}}
	tc := newTestTranscoder(t, runner)

	_, err := tc.Probe(context.Background(), []byte("broken"))
	if !pkgerrors.HasCode(err, pkgerrors.CodeProcessing) {
		t.Fatalf("Probe() error = %v, want CodeProcessing", err)
	}
	if !strings.Contains(err.Error(), "moov atom not found") {
		t.Errorf("Probe() error = %v, want stderr detail", err)
	}
}

func TestExtractThumbnailArgs(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{handler: func(call []string, dir string) ([]byte, []byte, error) {
		if call[0] == "ffprobe" {
			return []byte(probeJSON), nil, nil
		}
		out := call[len(call)-1]
		if err := os.WriteFile(out, []byte("jpeg-bytes"), 0o600); err != nil {
			return nil, nil, err
		}
		return nil, nil, nil
	}}
	tc := newTestTranscoder(t, runner)

	data, err := tc.ExtractThumbnail(context.Background(), []byte("video"), 2*time.Second, 480, 270, 80)
	if err != nil {
		t.Fatalf("ExtractThumbnail() error = %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Errorf("thumbnail = %q", data)
	}

	ffmpegCall := runner.calls[len(runner.calls)-1]
	if ffmpegCall[0] != "ffmpeg" {
		t.Fatalf("last call = %v", ffmpegCall)
	}
	if !hasArgPair(ffmpegCall, "-ss", "2.000") {
		t.Errorf("missing seek arg in %v", ffmpegCall)
	}
	if !hasArgPair(ffmpegCall, "-vf", "scale=480:270") {
		t.Errorf("missing scale filter in %v", ffmpegCall)
	}
	if !hasArgPair(ffmpegCall, "-vframes", "1") {
		t.Errorf("missing -vframes in %v", ffmpegCall)
	}
}

func TestExtractThumbnailClampsTimestamp(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{handler: func(call []string, dir string) ([]byte, []byte, error) {
		if call[0] == "ffprobe" {
			return []byte(probeJSON), nil, nil
		}
		out := call[len(call)-1]
		return nil, nil, os.WriteFile(out, []byte("x"), 0o600)
	}}
	tc := newTestTranscoder(t, runner)

	// Past the 12.5s duration; must clamp below it.
	if _, err := tc.ExtractThumbnail(context.Background(), []byte("video"), time.Hour, 480, 270, 80); err != nil {
		t.Fatalf("ExtractThumbnail() error = %v", err)
	}
	seek := argValue(t, runner.calls[len(runner.calls)-1], "-ss")
	if seek != "12.499" {
		t.Errorf("seek = %q, want clamped below duration", seek)
	}

	if _, err := tc.ExtractThumbnail(context.Background(), []byte("video"), -time.Second, 480, 270, 80); err != nil {
		t.Fatalf("ExtractThumbnail() error = %v", err)
	}
	seek = argValue(t, runner.calls[len(runner.calls)-1], "-ss")
	if seek != "0.000" {
		t.Errorf("seek = %q, want 0.000", seek)
	}
}

func TestExtractThumbnailUnknownDurationSeeksStart(t *testing.T) {
	t.Parallel()

	// ffprobe sometimes reports no duration (fragmented mp4, live remux).
	noDuration := `{
		"streams": [
			{"codec_type": "video", "codec_name": "h264", "width": 1280, "height": 720, "r_frame_rate": "30/1"}
		],
		"format": {}
	}`
	runner := &fakeRunner{handler: func(call []string, dir string) ([]byte, []byte, error) {
		if call[0] == "ffprobe" {
			return []byte(noDuration), nil, nil
		}
		out := call[len(call)-1]
		return nil, nil, os.WriteFile(out, []byte("x"), 0o600)
	}}
	tc := newTestTranscoder(t, runner)

	// With no duration to clamp against, an arbitrary seek must fall back
	// to the first frame instead of reaching ffmpeg unbounded.
	if _, err := tc.ExtractThumbnail(context.Background(), []byte("video"), time.Hour, 480, 270, 80); err != nil {
		t.Fatalf("ExtractThumbnail() error = %v", err)
	}
	seek := argValue(t, runner.calls[len(runner.calls)-1], "-ss")
	if seek != "0.000" {
		t.Errorf("seek = %q, want 0.000", seek)
	}
}

func TestJPEGQualityMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   int
		want int
	}{
		{100, 2},
		{1, 31},
		{-5, 31},
		{400, 2},
	}
	for _, tc := range cases {
		if got := jpegQuality(tc.in); got != tc.want {
			t.Errorf("jpegQuality(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
	// Higher requested quality never maps to a worse ffmpeg value.
	prev := jpegQuality(1)
	for q := 2; q <= 100; q++ {
		cur := jpegQuality(q)
		if cur > prev {
			t.Fatalf("jpegQuality not monotone at %d: %d > %d", q, cur, prev)
		}
		prev = cur
	}
}

func TestCompressTierArgs(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{handler: func(call []string, dir string) ([]byte, []byte, error) {
		out := call[len(call)-1]
		return nil, nil, os.WriteFile(out, []byte("mp4-bytes"), 0o600)
	}}
	tc := newTestTranscoder(t, runner)

	data, err := tc.Compress(context.Background(), []byte("video"), enums.QualityTierLow)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if string(data) != "mp4-bytes" {
		t.Errorf("output = %q", data)
	}

	call := runner.calls[0]
	if !hasArgPair(call, "-crf", "32") {
		t.Errorf("low tier crf missing in %v", call)
	}
	if !hasArgPair(call, "-movflags", "+faststart") {
		t.Errorf("faststart missing in %v", call)
	}

	// CRF must drop (higher fidelity) as the tier rises.
	tiers := []enums.QualityTier{enums.QualityTierLow, enums.QualityTierMedium, enums.QualityTierHigh}
	prev := 100
	for _, tier := range tiers {
		crf := tierParams[tier].crf
		if crf >= prev {
			t.Fatalf("tier %s crf %d not below previous %d", tier, crf, prev)
		}
		prev = crf
	}
}

func TestCompressRejectsUnknownTier(t *testing.T) {
	t.Parallel()

	tc := newTestTranscoder(t, &fakeRunner{handler: func([]string, string) ([]byte, []byte, error) {
		return nil, nil, nil
	}})
	_, err := tc.Compress(context.Background(), []byte("video"), enums.QualityTier("ultra"))
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("Compress() error = %v, want CodeValidation", err)
	}
}

func TestWorkspaceRemovedAfterCall(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{handler: func(call []string, dir string) ([]byte, []byte, error) {
		if call[0] == "ffprobe" {
			return []byte(probeJSON), nil, nil
		}
		return nil, []byte("boom"), errors.New("exit status 1")
	}}
	tc := newTestTranscoder(t, runner)

	if _, err := tc.Probe(context.Background(), []byte("video")); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if _, err := tc.Compress(context.Background(), []byte("video"), enums.QualityTierHigh); err == nil {
		t.Fatal("Compress() succeeded, want failure")
	}

	for _, dir := range runner.dirs {
		if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("workspace %s still exists", dir)
		}
	}
}

func TestTimeoutMapsToProcessingTimeout(t *testing.T) {
	t.Parallel()

	cfg := config.MediaConfig{
		FFmpegPath:     "ffmpeg",
		FFprobePath:    "ffprobe",
		ProcessTimeout: time.Nanosecond,
		TempDir:        t.TempDir(),
	}
	tc, err := NewTranscoder(cfg, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	if err != nil {
		t.Fatalf("NewTranscoder() error = %v", err)
	}
	tc.runner = &fakeRunner{handler: func([]string, string) ([]byte, []byte, error) {
		return nil, nil, context.DeadlineExceeded
	}}

	time.Sleep(time.Millisecond)
	_, err = tc.Probe(context.Background(), []byte("video"))
	if !pkgerrors.HasCode(err, pkgerrors.CodeProcessingTimeout) {
		t.Fatalf("Probe() error = %v, want CodeProcessingTimeout", err)
	}
}

func TestStagedInputWrittenToWorkspace(t *testing.T) {
	t.Parallel()

	var staged []byte
	runner := &fakeRunner{handler: func(call []string, dir string) ([]byte, []byte, error) {
		data, err := os.ReadFile(filepath.Join(dir, "input.bin"))
		if err != nil {
			return nil, nil, err
		}
		staged = data
		return []byte(probeJSON), nil, nil
	}}
	tc := newTestTranscoder(t, runner)

	if _, err := tc.Probe(context.Background(), []byte("raw-video-bytes")); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if string(staged) != "raw-video-bytes" {
		t.Errorf("staged input = %q", staged)
	}
}
