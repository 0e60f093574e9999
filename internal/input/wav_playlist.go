// WAVPlaylist is a non-spec, original_source-adjacent convenience: a
// playlist of WAV files decoded to raw PCM via ffmpeg, feeding the same PCM
// pacing path as StdinPCM. Grounded on spartan-waves/main.go's
// runFFmpegPump/buildFFmpegArgs, which already wires os/exec to ffmpeg for
// exactly this kind of "decode whatever, emit a stream" pump; kept as a
// second playlist subtype clearly separate from Playlist's core Ogg path.
package input

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"sujoyan/icesgo/internal/buffer"
	"sujoyan/icesgo/internal/icelog"
)

// WAVPlaylist shells out to ffmpeg to decode a directory or list of WAV
// files into a single continuous raw PCM stream.
type WAVPlaylist struct {
	ffmpegPath string
	rate       int
	channels   int

	cmd    *exec.Cmd
	stdout *bufio.Reader
	log    *icelog.Logger

	newTrack bool
}

// NewWAVPlaylist builds a WAVPlaylist from a "dir" or "file" param (same
// convention as Playlist), decoding with ffmpeg at 44100Hz stereo 16-bit LE
// unless overridden by "rate"/"channels".
func NewWAVPlaylist(params []Param, log *icelog.Logger) (*WAVPlaylist, error) {
	exts := map[string]bool{".wav": true, ".wave": true}

	var files []string
	var err error
	if dir, ok := Lookup(params, "dir"); ok {
		files, err = buildListFromDir(dir, exts)
	} else if listPath, ok := Lookup(params, "file"); ok {
		files, err = readPlaylistFile(listPath, exts)
	} else {
		return nil, fmt.Errorf("input: wav playlist module requires a \"dir\" or \"file\" param")
	}
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("input: wav playlist is empty")
	}

	if v, ok := Lookup(params, "shuffle"); ok && (v == "1" || v == "true") {
		rand.Shuffle(len(files), func(i, j int) { files[i], files[j] = files[j], files[i] })
	}

	ffmpegPath := "ffmpeg"
	if v, ok := Lookup(params, "ffmpeg"); ok {
		ffmpegPath = v
	}
	rate, channels := 44100, 2
	if v, ok := Lookup(params, "rate"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			rate = n
		}
	}
	if v, ok := Lookup(params, "channels"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			channels = n
		}
	}

	concatPath, err := writeConcatFile(files)
	if err != nil {
		return nil, err
	}

	args := []string{
		"-hide_banner", "-loglevel", "warning",
		"-f", "concat", "-safe", "0", "-i", concatPath,
		"-vn", "-f", "s16le", "-ar", strconv.Itoa(rate), "-ac", strconv.Itoa(channels),
		"pipe:1",
	}
	cmd := exec.Command(ffmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("input: ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("input: starting ffmpeg: %w", err)
	}

	return &WAVPlaylist{
		ffmpegPath: ffmpegPath,
		rate:       rate,
		channels:   channels,
		cmd:        cmd,
		stdout:     bufio.NewReaderSize(stdout, stdinBufSize),
		log:        log,
		newTrack:   true,
	}, nil
}

func (w *WAVPlaylist) Type() Type { return TypePCM }

// PCMFormat reports the geometry ffmpeg was asked to decode to (s16le).
func (w *WAVPlaylist) PCMFormat() (int, int, bool) { return w.rate, w.channels, false }

func (w *WAVPlaylist) GetData() (*buffer.RefBuffer, error) {
	buf := make([]byte, stdinBufSize)
	n, err := w.stdout.Read(buf)
	if n <= 0 {
		if err == io.EOF || err == nil {
			return nil, errBitstreamEnded
		}
		return nil, err
	}

	bytesPerSec := int64(w.rate * w.channels * 2)
	rb := buffer.New(buf[:n], bytesPerSec, w.newTrack)
	w.newTrack = false
	return rb, nil
}

func (w *WAVPlaylist) HandleEvent(ev Event, param any) error {
	if ev == EventNextTrack {
		w.newTrack = true
	}
	return nil
}

func (w *WAVPlaylist) Close() error {
	if w.cmd != nil && w.cmd.Process != nil {
		w.cmd.Process.Kill()
		w.cmd.Wait()
	}
	return nil
}

// writeConcatFile writes an ffmpeg concat-demuxer list file, grounded on
// spartan-waves/main.go's writeFFmpegConcatFile.
func writeConcatFile(paths []string) (string, error) {
	f, err := os.CreateTemp("", "icesgo-concat-*.txt")
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, p := range paths {
		esc := strings.ReplaceAll(p, "'", `'\''`)
		if _, err := fmt.Fprintf(w, "file '%s'\n", esc); err != nil {
			return "", err
		}
	}
	if err := w.Flush(); err != nil {
		return "", err
	}
	return f.Name(), nil
}
