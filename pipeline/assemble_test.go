package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingStorage struct {
	mu   sync.Mutex
	puts map[string]string
}

func (s *recordingStorage) Mirror(ctx context.Context, sourceURL, key string) (string, error) {
	return "https://store.example.com/" + key, nil
}

func (s *recordingStorage) PutFile(ctx context.Context, localPath, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.puts == nil {
		s.puts = map[string]string{}
	}
	s.puts[key] = filepath.Base(localPath)
	return "https://store.example.com/" + key, nil
}

func TestFFmpegAssemble(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("media"))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.FFmpegPath = "/opt/ffmpeg/bin/ffmpeg"
	a := NewFFmpegAssembler(cfg, zerolog.Nop())

	var commands [][]string
	a.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		commands = append(commands, append([]string{filepath.Base(name)}, args...))
		if filepath.Base(name) == "ffprobe" {
			if hasArg(args, "-select_streams") {
				return nil, nil
			}
			return []byte("12.48\n"), nil
		}
		return nil, nil
	}

	store := &recordingStorage{}
	out, err := a.Assemble(context.Background(), AssemblyInput{
		MovieID: "m1",
		Clips: []Clip{
			{Ordinal: 2, VideoURL: srv.URL + "/b.mp4"},
			{Ordinal: 1, VideoURL: srv.URL + "/a.mp4?sig=1", AudioURL: srv.URL + "/a.mp3"},
		},
		MusicURL:  srv.URL + "/music.mp3",
		Qualities: []string{"1080p", "480p"},
	}, store)
	require.NoError(t, err)

	assert.Equal(t, 12.48, out.Duration)
	assert.Equal(t, map[string]string{
		"1080p": "https://store.example.com/movies/m1/1080p.mp4",
		"480p":  "https://store.example.com/movies/m1/480p.mp4",
	}, out.Renditions)
	assert.Len(t, store.puts, 2)

	// clip 1 with speech, audio check and silent fill for clip 2, concat, music mix,
	// duration probe, two encodes
	require.Len(t, commands, 8)
	first := strings.Join(commands[0], " ")
	assert.Contains(t, first, "scene-001-src.mp4")
	assert.Contains(t, first, "scene-001-audio.mp3")
	assert.Equal(t, "ffprobe", commands[1][0])
	assert.Contains(t, strings.Join(commands[1], " "), "scene-002-src.mp4")
	second := strings.Join(commands[2], " ")
	assert.Contains(t, second, "scene-002-src.mp4")
	assert.Contains(t, second, "anullsrc")
	assert.Contains(t, strings.Join(commands[3], " "), "-f concat")
	assert.Contains(t, strings.Join(commands[4], " "), "amix")
	assert.Equal(t, "ffprobe", commands[5][0])
	assert.Contains(t, strings.Join(commands[6], " "), "scale=-2:1080")
	assert.Contains(t, strings.Join(commands[7], " "), "scale=-2:480")

	entries, err := os.ReadDir(cfg.WorkDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "work dir is cleaned up")
}

func TestFFmpegAssembleKeepsLipSyncAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("media"))
	}))
	defer srv.Close()

	a := NewFFmpegAssembler(testConfig(t), zerolog.Nop())
	var commands [][]string
	a.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		commands = append(commands, append([]string{filepath.Base(name)}, args...))
		if filepath.Base(name) == "ffprobe" {
			if hasArg(args, "-select_streams") {
				return []byte("1\n"), nil
			}
			return []byte("6.0\n"), nil
		}
		return nil, nil
	}

	_, err := a.Assemble(context.Background(), AssemblyInput{
		MovieID:   "m1",
		Clips:     []Clip{{Ordinal: 1, VideoURL: srv.URL + "/lipsync.mp4"}},
		Qualities: []string{"720p"},
	}, &recordingStorage{})
	require.NoError(t, err)

	var normalize []string
	for _, c := range commands {
		if c[0] != "ffprobe" {
			normalize = c
			break
		}
	}
	require.NotNil(t, normalize)
	joined := strings.Join(normalize, " ")
	assert.NotContains(t, joined, "anullsrc")
	assert.Contains(t, joined, "-map 0:a:0")
	assert.Contains(t, joined, "scene-001-src.mp4")
}

func hasArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func TestFFmpegAssembleRejectsSimulatedInput(t *testing.T) {
	a := NewFFmpegAssembler(testConfig(t), zerolog.Nop())
	a.run = func(ctx context.Context, name string, args ...string) ([]byte, error) { return nil, nil }
	_, err := a.Assemble(context.Background(), AssemblyInput{
		MovieID:   "m1",
		Clips:     []Clip{{Ordinal: 1, VideoURL: "sim://video/1.mp4"}},
		Qualities: []string{"720p"},
	}, &recordingStorage{})
	assert.Error(t, err)
}

func TestSimulatedAssembler(t *testing.T) {
	out, err := SimulatedAssembler{}.Assemble(context.Background(), AssemblyInput{
		MovieID:   "m1",
		Clips:     []Clip{{Ordinal: 1, Duration: 5}, {Ordinal: 2, Duration: 8}},
		Qualities: []string{"720p"},
	}, SimulatedStorage{})
	require.NoError(t, err)
	assert.Equal(t, 13.0, out.Duration)
	assert.Equal(t, "sim://storage/movies/m1/720p.mp4", out.Renditions["720p"])
}

func TestBestRendition(t *testing.T) {
	q, url := bestRendition(map[string]string{"480p": "a", "1080p": "b", "720p": "c"})
	assert.Equal(t, "1080p", q)
	assert.Equal(t, "b", url)

	q, url = bestRendition(nil)
	assert.Empty(t, q)
	assert.Empty(t, url)
}

func TestExtOf(t *testing.T) {
	assert.Equal(t, ".mp4", extOf("https://cdn.example.com/v/abc.MP4?X-Amz-Signature=1", ".bin"))
	assert.Equal(t, ".png", extOf("https://cdn.example.com/v/abc", ".png"))
	assert.Equal(t, ".mp3", extOf("https://cdn.example.com/v.1/track", ".mp3"))
}
