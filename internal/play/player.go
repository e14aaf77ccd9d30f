package play

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/audiolibrelab/micrelay/internal/audiofile"
)

// players in order of preference
var players = []string{"ffplay", "mpv", "vlc", "aplay"}

type Player struct {
	dir string
	// lookPath is exec.LookPath outside tests.
	lookPath func(string) (string, error)
}

// New creates a player for the recordings in dir.
func New(dir string) *Player {
	return &Player{dir: dir, lookPath: exec.LookPath}
}

// Resolve finds the recording to play: the newest one when name is empty,
// otherwise the named file (with or without extension) in the directory.
func (p *Player) Resolve(name string) (audiofile.Recording, error) {
	recordings, err := audiofile.Scan(p.dir)
	if err != nil {
		return audiofile.Recording{}, err
	}
	if len(recordings) == 0 {
		return audiofile.Recording{}, fmt.Errorf("no recordings in %s", p.dir)
	}
	if name == "" {
		return recordings[0], nil
	}

	name = filepath.Base(name)
	for _, rec := range recordings {
		if rec.Name == name || strings.TrimSuffix(rec.Name, filepath.Ext(rec.Name)) == name {
			return rec, nil
		}
	}
	return audiofile.Recording{}, fmt.Errorf("recording not found: %s", name)
}

// Play plays a recording (see Resolve) and waits for the player to exit.
func (p *Player) Play(ctx context.Context, name string) error {
	rec, err := p.Resolve(name)
	if err != nil {
		return err
	}

	fmt.Printf("Playing: %s\n", rec.Path)

	player, err := p.findAudioPlayer(rec.Format)
	if err != nil {
		return fmt.Errorf("no suitable audio player found: %w", err)
	}

	cmd := exec.CommandContext(ctx, player, playerArgs(player, rec.Path)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("playback failed with %s: %w", player, err)
	}

	fmt.Println("Playback completed")
	return nil
}

func playerArgs(player, path string) []string {
	switch player {
	case "vlc":
		return []string{"--play-and-exit", path}
	case "mpv":
		return []string{"--no-video", path}
	case "ffplay":
		return []string{"-nodisp", "-autoexit", "-loglevel", "error", path}
	default:
		return []string{path}
	}
}

func (p *Player) findAudioPlayer(format audiofile.Format) (string, error) {
	for _, player := range players {
		// aplay only plays WAV
		if player == "aplay" && format != audiofile.FormatWAV {
			continue
		}
		if _, err := p.lookPath(player); err == nil {
			return player, nil
		}
	}

	return "", fmt.Errorf("no audio player found for %s (tried: %s)", format, strings.Join(players, ", "))
}
