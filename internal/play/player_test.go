package play

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/micrelay/internal/audiofile"
)

func writeRecording(t *testing.T, dir, name string, mod time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	base := time.Unix(1_700_000_000, 0)
	writeRecording(t, dir, "recording_100.wav", base)
	writeRecording(t, dir, "recording_200.m4a", base.Add(time.Minute))

	p := New(dir)

	latest, err := p.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "recording_200.m4a", latest.Name)

	named, err := p.Resolve("recording_100")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "recording_100.wav"), named.Path)

	named, err = p.Resolve("/elsewhere/recording_100.wav")
	require.NoError(t, err)
	assert.Equal(t, "recording_100.wav", named.Name)

	_, err = p.Resolve("recording_300")
	assert.ErrorContains(t, err, "not found")
}

func TestResolve_Empty(t *testing.T) {
	_, err := New(t.TempDir()).Resolve("")
	assert.ErrorContains(t, err, "no recordings")
}

func TestFindAudioPlayer(t *testing.T) {
	only := func(name string) func(string) (string, error) {
		return func(bin string) (string, error) {
			if bin == name {
				return "/usr/bin/" + bin, nil
			}
			return "", errors.New("not found")
		}
	}

	p := New(t.TempDir())

	p.lookPath = only("aplay")
	player, err := p.findAudioPlayer(audiofile.FormatWAV)
	require.NoError(t, err)
	assert.Equal(t, "aplay", player)

	_, err = p.findAudioPlayer(audiofile.FormatM4A)
	assert.Error(t, err)

	p.lookPath = only("mpv")
	player, err = p.findAudioPlayer(audiofile.FormatAIFF)
	require.NoError(t, err)
	assert.Equal(t, "mpv", player)
}

func TestPlayerArgs(t *testing.T) {
	assert.Equal(t, []string{"--play-and-exit", "a.wav"}, playerArgs("vlc", "a.wav"))
	assert.Equal(t, []string{"a.wav"}, playerArgs("aplay", "a.wav"))
}
