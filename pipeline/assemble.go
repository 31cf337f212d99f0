package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PromptToMovie-server/config"
	"PromptToMovie-server/providers"
)

// Clip is the best available media of one scene.
type Clip struct {
	Ordinal  int
	VideoURL string
	// AudioURL is set when the scene has speech that is not already part of VideoURL.
	AudioURL string
	Duration float64
}

type AssemblyInput struct {
	MovieID   string
	Clips     []Clip
	MusicURL  string
	Qualities []string
}

type AssemblyOutput struct {
	Renditions map[string]string
	Duration   float64
}

// Assembler joins scene media into the final movie.
type Assembler interface {
	Assemble(ctx context.Context, in AssemblyInput, store Storage) (AssemblyOutput, error)
	// ExtractFrame stores one still of videoURL under key.
	ExtractFrame(ctx context.Context, videoURL, key string, store Storage) (string, error)
}

// SimulatedAssembler produces renditions without touching any media. It is used when
// the inputs or the storage are simulated.
type SimulatedAssembler struct{}

func (SimulatedAssembler) Assemble(ctx context.Context, in AssemblyInput, store Storage) (AssemblyOutput, error) {
	out := AssemblyOutput{Renditions: make(map[string]string, len(in.Qualities))}
	for _, c := range in.Clips {
		out.Duration += c.Duration
	}
	for _, q := range in.Qualities {
		out.Renditions[q] = providers.SimScheme + "storage/" + movieKey(in.MovieID, q+".mp4")
	}
	return out, nil
}

func (SimulatedAssembler) ExtractFrame(ctx context.Context, videoURL, key string, store Storage) (string, error) {
	return providers.SimScheme + "storage/" + key, nil
}

// FFmpegAssembler normalizes every clip, concatenates them, mixes in music and encodes
// one rendition per quality.
type FFmpegAssembler struct {
	ffmpeg  string
	ffprobe string
	workDir string
	client  *http.Client
	log     zerolog.Logger
	// run executes a command; replaced in tests.
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func NewFFmpegAssembler(cfg config.PipelineConfig, log zerolog.Logger) *FFmpegAssembler {
	ffprobe := "ffprobe"
	if strings.ContainsRune(cfg.FFmpegPath, os.PathSeparator) {
		ffprobe = filepath.Join(filepath.Dir(cfg.FFmpegPath), "ffprobe")
	}
	return &FFmpegAssembler{
		ffmpeg:  cfg.FFmpegPath,
		ffprobe: ffprobe,
		workDir: cfg.WorkDir,
		client:  &http.Client{},
		log:     log.With().Str("component", "assembler").Logger(),
		run:     runCommand,
	}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 800 {
			msg = msg[len(msg)-800:]
		}
		return out, fmt.Errorf("%s: %w: %s", filepath.Base(name), err, msg)
	}
	return out, nil
}

func (a *FFmpegAssembler) Assemble(ctx context.Context, in AssemblyInput, store Storage) (AssemblyOutput, error) {
	if len(in.Clips) == 0 {
		return AssemblyOutput{}, fmt.Errorf("no clips to assemble")
	}
	dir, err := os.MkdirTemp(a.workDir, "assemble-"+in.MovieID+"-")
	if err != nil {
		return AssemblyOutput{}, fmt.Errorf("create work dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			a.log.Error().Err(err).Str("dir", dir).Msg("failed to remove work dir")
		}
	}()

	clips := append([]Clip(nil), in.Clips...)
	sort.Slice(clips, func(i, j int) bool { return clips[i].Ordinal < clips[j].Ordinal })

	normalized := make([]string, 0, len(clips))
	for _, c := range clips {
		file, err := a.normalizeClip(ctx, dir, c)
		if err != nil {
			return AssemblyOutput{}, fmt.Errorf("scene %d: %w", c.Ordinal, err)
		}
		normalized = append(normalized, file)
	}

	joined, err := a.concatenate(ctx, dir, normalized)
	if err != nil {
		return AssemblyOutput{}, err
	}
	master := joined
	if in.MusicURL != "" {
		if master, err = a.mixMusic(ctx, dir, joined, in.MusicURL); err != nil {
			return AssemblyOutput{}, err
		}
	}

	out := AssemblyOutput{Renditions: make(map[string]string, len(in.Qualities))}
	if out.Duration, err = a.probeDuration(ctx, master); err != nil {
		return AssemblyOutput{}, err
	}
	for _, q := range in.Qualities {
		height, ok := config.QualityHeights[q]
		if !ok {
			return AssemblyOutput{}, fmt.Errorf("unknown quality %q", q)
		}
		file := filepath.Join(dir, q+".mp4")
		if _, err := a.run(ctx, a.ffmpeg, "-y", "-i", master,
			"-vf", fmt.Sprintf("scale=-2:%d", height),
			"-c:v", "libx264", "-preset", "veryfast", "-crf", "23", "-pix_fmt", "yuv420p",
			"-c:a", "copy", "-movflags", "+faststart", file); err != nil {
			return AssemblyOutput{}, fmt.Errorf("encode %s: %w", q, err)
		}
		url, err := store.PutFile(ctx, file, movieKey(in.MovieID, q+".mp4"))
		if err != nil {
			return AssemblyOutput{}, fmt.Errorf("%w: upload %s: %w", ErrStorage, q, err)
		}
		out.Renditions[q] = url
	}
	return out, nil
}

// normalizeClip re-encodes a clip to a common codec, frame rate and audio layout so
// the concat demuxer can join the results without re-encoding. A separate speech
// track replaces the clip's audio; otherwise the clip keeps its own audio, and only
// clips with no audio stream at all get a silent track.
func (a *FFmpegAssembler) normalizeClip(ctx context.Context, dir string, c Clip) (string, error) {
	video, err := a.download(ctx, dir, c.VideoURL, fmt.Sprintf("scene-%03d-src", c.Ordinal))
	if err != nil {
		return "", err
	}
	args := []string{"-y", "-i", video}
	audioInput := "1:a"
	switch {
	case c.AudioURL != "":
		audio, err := a.download(ctx, dir, c.AudioURL, fmt.Sprintf("scene-%03d-audio", c.Ordinal))
		if err != nil {
			return "", err
		}
		args = append(args, "-i", audio)
	default:
		hasAudio, err := a.hasAudio(ctx, video)
		if err != nil {
			return "", err
		}
		if hasAudio {
			audioInput = "0:a:0"
		} else {
			args = append(args, "-f", "lavfi", "-i", "anullsrc=r=44100:cl=stereo")
		}
	}
	out := filepath.Join(dir, fmt.Sprintf("scene-%03d.mp4", c.Ordinal))
	args = append(args,
		"-map", "0:v:0", "-map", audioInput, "-shortest",
		"-c:v", "libx264", "-preset", "veryfast", "-pix_fmt", "yuv420p", "-r", "30",
		"-c:a", "aac", "-ar", "44100", "-ac", "2", out)
	if _, err := a.run(ctx, a.ffmpeg, args...); err != nil {
		return "", fmt.Errorf("normalize clip: %w", err)
	}
	return out, nil
}

func (a *FFmpegAssembler) concatenate(ctx context.Context, dir string, files []string) (string, error) {
	listFile, err := os.Create(filepath.Join(dir, "concat-"+uuid.NewString()+".txt"))
	if err != nil {
		return "", fmt.Errorf("create concat list: %w", err)
	}
	writer := bufio.NewWriter(listFile)
	for _, f := range files {
		if _, err := writer.WriteString("file '" + f + "'\n"); err != nil {
			listFile.Close()
			return "", fmt.Errorf("write concat list: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		listFile.Close()
		return "", fmt.Errorf("flush concat list: %w", err)
	}
	if err := listFile.Close(); err != nil {
		return "", fmt.Errorf("close concat list: %w", err)
	}

	out := filepath.Join(dir, "joined.mp4")
	if _, err := a.run(ctx, a.ffmpeg, "-y", "-f", "concat", "-safe", "0", "-i", listFile.Name(), "-c", "copy", out); err != nil {
		return "", fmt.Errorf("concatenate clips: %w", err)
	}
	return out, nil
}

func (a *FFmpegAssembler) mixMusic(ctx context.Context, dir, video, musicURL string) (string, error) {
	music, err := a.download(ctx, dir, musicURL, "music")
	if err != nil {
		return "", err
	}
	out := filepath.Join(dir, "master.mp4")
	if _, err := a.run(ctx, a.ffmpeg, "-y", "-i", video, "-stream_loop", "-1", "-i", music,
		"-filter_complex", "[1:a]volume=0.25[m];[0:a][m]amix=inputs=2:duration=first:dropout_transition=2[a]",
		"-map", "0:v", "-map", "[a]", "-c:v", "copy", "-c:a", "aac", out); err != nil {
		return "", fmt.Errorf("mix music: %w", err)
	}
	return out, nil
}

// hasAudio reports whether file carries at least one audio stream.
func (a *FFmpegAssembler) hasAudio(ctx context.Context, file string) (bool, error) {
	out, err := a.run(ctx, a.ffprobe, "-v", "error", "-select_streams", "a",
		"-show_entries", "stream=index", "-of", "csv=p=0", file)
	if err != nil {
		return false, fmt.Errorf("probe audio streams: %w", err)
	}
	return strings.TrimSpace(string(out)) != "", nil
}

func (a *FFmpegAssembler) probeDuration(ctx context.Context, file string) (float64, error) {
	out, err := a.run(ctx, a.ffprobe, "-v", "error", "-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1", file)
	if err != nil {
		return 0, fmt.Errorf("probe duration: %w", err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return d, nil
}

func (a *FFmpegAssembler) ExtractFrame(ctx context.Context, videoURL, key string, store Storage) (string, error) {
	dir, err := os.MkdirTemp(a.workDir, "frame-")
	if err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	video, err := a.download(ctx, dir, videoURL, "source")
	if err != nil {
		return "", err
	}
	frame := filepath.Join(dir, "frame.jpg")
	if _, err := a.run(ctx, a.ffmpeg, "-y", "-ss", "1", "-i", video, "-frames:v", "1", "-q:v", "2", frame); err != nil {
		return "", fmt.Errorf("extract frame: %w", err)
	}
	url, err := store.PutFile(ctx, frame, key)
	if err != nil {
		return "", fmt.Errorf("%w: upload frame: %w", ErrStorage, err)
	}
	return url, nil
}

// download fetches url into dir, keeping the source extension when there is one.
func (a *FFmpegAssembler) download(ctx context.Context, dir, url, name string) (string, error) {
	if providers.IsSimulated(url) {
		return "", fmt.Errorf("cannot download simulated asset %s", url)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: status %d", name, resp.StatusCode)
	}
	ext := filepath.Ext(strings.SplitN(filepath.Base(url), "?", 2)[0])
	if len(ext) > 5 {
		ext = ""
	}
	file := filepath.Join(dir, name+ext)
	f, err := os.Create(file)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return "", fmt.Errorf("download %s: %w", name, err)
	}
	return file, f.Close()
}
