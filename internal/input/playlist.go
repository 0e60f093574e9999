// Grounded on im_playlist.c/playlist_basic.c's file-list traversal paired
// with spartan-waves/main.go's buildListFromDir and readPlaylistFile, which
// already implement exactly this kind of directory/list-file walk for its
// own ffmpeg pump.
package input

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"sujoyan/icesgo/internal/buffer"
	"sujoyan/icesgo/internal/icelog"
	"sujoyan/icesgo/internal/oggpage"
)

// maxConsecutiveErrors mirrors im_playlist.c's pl->errors > 5 cutoff.
const maxConsecutiveErrors = 5

// Playlist feeds whole Ogg/Vorbis files, page by page, from a flat file
// list or a recursively scanned directory.
type Playlist struct {
	files   []string
	pos     int
	shuffle bool

	current   *bufio.Reader
	currentFh *os.File
	filename  string

	log *icelog.Logger

	nextTrack bool
	errors    int
}

// NewPlaylist builds a Playlist from either a "file" param (a flat list of
// paths, one per line, matching playlist_basic.c) or a "dir" param
// (recursively scanned for .ogg/.oga files). "shuffle" and "random"
// params match §4.4's module params.
func NewPlaylist(params []Param, log *icelog.Logger) (*Playlist, error) {
	exts := map[string]bool{".ogg": true, ".oga": true}

	var files []string
	var err error
	if dir, ok := Lookup(params, "dir"); ok {
		files, err = buildListFromDir(dir, exts)
	} else if listPath, ok := Lookup(params, "file"); ok {
		files, err = readPlaylistFile(listPath, exts)
	} else {
		return nil, errors.New("input: playlist module requires a \"dir\" or \"file\" param")
	}
	if err != nil {
		return nil, fmt.Errorf("input: building playlist: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("input: playlist is empty")
	}

	shuffle := false
	if v, ok := Lookup(params, "shuffle"); ok && (v == "1" || v == "true") {
		shuffle = true
	}
	if v, ok := Lookup(params, "random"); ok && (v == "1" || v == "true") {
		shuffle = true
	}
	if shuffle {
		rand.Shuffle(len(files), func(i, j int) { files[i], files[j] = files[j], files[i] })
	}

	return &Playlist{
		files:     files,
		shuffle:   shuffle,
		log:       log,
		nextTrack: true,
	}, nil
}

func (p *Playlist) Type() Type { return TypeVorbis }

func (p *Playlist) advance() error {
	if p.currentFh != nil {
		p.currentFh.Close()
		p.currentFh = nil
		p.current = nil
	}

	if p.pos >= len(p.files) {
		return errBitstreamEnded
	}
	p.filename = p.files[p.pos]
	p.pos++

	f, err := os.Open(p.filename)
	if err != nil {
		p.log.Warnf("error opening file %q: %v", p.filename, err)
		p.errors++
		return nil // non-fatal, caller retries next call
	}
	p.currentFh = f
	p.current = bufio.NewReader(f)
	p.log.Infof("Currently playing %q", p.filename)
	return nil
}

// GetData reads the next Ogg page from the playlist, matching
// playlist_read's per-page loop.
func (p *Playlist) GetData() (*buffer.RefBuffer, error) {
	if p.errors > maxConsecutiveErrors {
		return nil, errors.New("input: too many consecutive playlist errors")
	}

	if p.current == nil || p.nextTrack {
		p.nextTrack = false
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.current == nil {
			return nil, nil // open failed, try the next file next call
		}
	}

	page, err := oggpage.ReadPage(p.current)
	if err == io.EOF {
		p.nextTrack = true
		return nil, nil
	}
	if err != nil {
		p.log.Warnf("corrupt or missing data in file (%s): %v", p.filename, err)
		p.errors++
		p.nextTrack = true
		return nil, nil
	}

	// Pacing happens in the producer, driven off the same page bytes this
	// function hands back; the Aux field records where the page header ends
	// so downstream consumers can rebuild the header/body split.
	data := page.Encode()
	rb := buffer.New(data, int64(27+len(page.Segments)), page.IsBOS())
	p.errors = 0
	return rb, nil
}

func (p *Playlist) HandleEvent(ev Event, param any) error {
	switch ev {
	case EventNextTrack:
		p.nextTrack = true
	case EventShutdown:
		return p.Close()
	}
	return nil
}

func (p *Playlist) Close() error {
	if p.currentFh != nil {
		return p.currentFh.Close()
	}
	return nil
}

func resolveExistingFile(path, baseDir string) (string, bool) {
	if !filepath.IsAbs(path) && baseDir != "" {
		path = filepath.Join(baseDir, path)
	}
	path = filepath.Clean(path)

	if st, err := os.Stat(path); err == nil && !st.IsDir() {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		return path, true
	}
	return "", false
}

func readPlaylistFile(listPath string, exts map[string]bool) ([]string, error) {
	f, err := os.Open(listPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	baseDir := filepath.Dir(listPath)

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		line = strings.TrimPrefix(line, "\ufeff")

		resolved, ok := resolveExistingFile(line, baseDir)
		if !ok {
			continue
		}
		if ext := strings.ToLower(filepath.Ext(resolved)); !exts[ext] {
			continue
		}
		out = append(out, resolved)
	}
	return out, sc.Err()
}

func buildListFromDir(root string, exts map[string]bool) ([]string, error) {
	root = filepath.Clean(root)

	seenDirs := map[string]bool{}
	var out []string

	var walk func(dir string) error
	walk = func(dir string) error {
		realDir, err := filepath.EvalSymlinks(dir)
		if err == nil {
			if abs, e := filepath.Abs(realDir); e == nil {
				realDir = abs
			}
			if seenDirs[realDir] {
				return nil
			}
			seenDirs[realDir] = true
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil
		}

		for _, e := range entries {
			full := filepath.Join(dir, e.Name())
			info, err := e.Info()
			if err != nil {
				continue
			}
			if info.IsDir() {
				if err := walk(full); err != nil {
					return err
				}
				continue
			}
			if ext := strings.ToLower(filepath.Ext(full)); exts[ext] {
				out = append(out, full)
			}
		}
		return nil
	}

	if err := walk(root); err != nil {
		return nil, err
	}
	return out, nil
}
