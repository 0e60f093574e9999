// Package source implements a minimal Icecast/Shoutcast source client: the
// wire protocol libshout speaks, reimplemented directly since no binding
// for it exists anywhere in the retrieved pack (unlike Ogg/Vorbis, which
// github.com/xlab/vorbis-go/vorbis already covers). Grounded on stream.c's
// call shape (shout_init_connection/shout_connect/shout_send_data/
// shout_disconnect) and on §6's metadata field list.
package source

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"time"
)

// Kind classifies a connection failure the way libshout's shout_error codes
// let stream.c's reconnect state machine (§4.6) distinguish a transient
// network failure from a permanent rejection.
type Kind int

const (
	// KindSocket is a transport-level failure: DNS, connect, read/write.
	KindSocket Kind = iota
	// KindRefused is the server actively rejecting us (bad auth, busy mount).
	KindRefused
	// KindProtocol is a malformed or unexpected server response.
	KindProtocol
)

// Error wraps a source connection failure with its Kind, so callers can
// match on it the way the original matches SHOUTERR_SOCKET.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func socketErr(err error) error   { return &Error{Kind: KindSocket, Err: err} }
func refusedErr(msg string) error { return &Error{Kind: KindRefused, Err: errors.New(msg)} }
func protoErr(msg string) error   { return &Error{Kind: KindProtocol, Err: errors.New(msg)} }

// Params configures one outgoing connection to a remote Icecast server.
type Params struct {
	Hostname string
	Port     int
	Username string // defaults to "source" per §6, matching SOURCE-protocol convention
	Password string
	Mount    string

	Public      bool
	Name        string
	Genre       string
	Description string
	URL         string

	// Bitrate/Quality become the ice-audio-info hint header when set,
	// matching shout_set_audio_info's bitrate/quality keys (§4.6 "install
	// bitrate/quality audio-info hints"). Bitrate is sent only when > 0;
	// Quality is sent only when HasQuality is set.
	Bitrate int
	Quality float32
	HasQuality bool

	ContentType string // e.g. "application/ogg"

	DialTimeout time.Duration
}

// Conn is a live, authenticated connection to one remote server's mount
// point, ready to have encoded stream bytes written to it.
type Conn struct {
	nc   net.Conn
	Addr string
}

// Connect dials hostname:port, performs the HTTP PUT source handshake with
// Basic auth (username defaulting to "source" per §6) and the ice-*
// metadata headers, and returns a Conn whose Send method streams the body.
func Connect(p Params) (*Conn, error) {
	username := p.Username
	if username == "" {
		username = "source"
	}
	timeout := p.DialTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	addr := net.JoinHostPort(p.Hostname, strconv.Itoa(p.Port))
	nc, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, socketErr(fmt.Errorf("connecting to %s: %w", addr, err))
	}

	mount := p.Mount
	if mount == "" {
		mount = "/"
	}
	auth := base64.StdEncoding.EncodeToString([]byte(username + ":" + p.Password))

	req := fmt.Sprintf("PUT %s HTTP/1.1\r\n", mount)
	req += fmt.Sprintf("Host: %s\r\n", p.Hostname)
	req += fmt.Sprintf("Authorization: Basic %s\r\n", auth)
	req += "User-Agent: icesgo\r\n"
	if p.ContentType != "" {
		req += fmt.Sprintf("Content-Type: %s\r\n", p.ContentType)
	}
	req += "Transfer-Encoding: chunked\r\n"
	req += "Expect: 100-continue\r\n"
	req += fmt.Sprintf("ice-name: %s\r\n", p.Name)
	req += fmt.Sprintf("ice-genre: %s\r\n", p.Genre)
	req += fmt.Sprintf("ice-description: %s\r\n", p.Description)
	req += fmt.Sprintf("ice-url: %s\r\n", p.URL)
	if p.Public {
		req += "ice-public: 1\r\n"
	} else {
		req += "ice-public: 0\r\n"
	}
	if p.Bitrate > 0 || p.HasQuality {
		var info string
		if p.Bitrate > 0 {
			info = fmt.Sprintf("bitrate=%d", p.Bitrate)
		}
		if p.HasQuality {
			if info != "" {
				info += ";"
			}
			info += fmt.Sprintf("quality=%.2f", p.Quality)
		}
		req += fmt.Sprintf("ice-audio-info: %s\r\n", info)
	}
	req += "\r\n"

	nc.SetWriteDeadline(time.Now().Add(timeout))
	if _, err := nc.Write([]byte(req)); err != nil {
		nc.Close()
		return nil, socketErr(fmt.Errorf("writing request to %s: %w", addr, err))
	}

	nc.SetReadDeadline(time.Now().Add(timeout))
	reader := bufio.NewReader(nc)
	tp := textproto.NewReader(reader)

	statusLine, err := tp.ReadLine()
	if err != nil {
		nc.Close()
		return nil, socketErr(fmt.Errorf("reading status line from %s: %w", addr, err))
	}

	code, ok := parseStatusCode(statusLine)
	if !ok {
		nc.Close()
		return nil, protoErr("malformed status line: " + statusLine)
	}
	if code == 100 {
		// consume the 100-continue's (empty) header block and the real
		// status line that follows it.
		if _, err := tp.ReadMIMEHeader(); err != nil {
			nc.Close()
			return nil, protoErr("malformed 100-continue response")
		}
		statusLine, err = tp.ReadLine()
		if err != nil {
			nc.Close()
			return nil, socketErr(err)
		}
		code, ok = parseStatusCode(statusLine)
		if !ok {
			nc.Close()
			return nil, protoErr("malformed status line: " + statusLine)
		}
	}

	if _, err := tp.ReadMIMEHeader(); err != nil {
		nc.Close()
		return nil, protoErr("malformed response headers")
	}

	if code < 200 || code >= 300 {
		nc.Close()
		return nil, refusedErr(fmt.Sprintf("server rejected source connection: %s", statusLine))
	}

	nc.SetDeadline(time.Time{})
	return &Conn{nc: nc, Addr: addr}, nil
}

func parseStatusCode(line string) (int, bool) {
	var proto string
	var code int
	n, err := fmt.Sscanf(line, "%s %d", &proto, &code)
	if err != nil || n != 2 {
		return 0, false
	}
	return code, true
}

// Send writes buf as one HTTP chunk. Errors are always *Error with
// KindSocket, matching shout_send_data's failure domain.
func (c *Conn) Send(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	chunkHeader := fmt.Sprintf("%x\r\n", len(buf))
	if _, err := c.nc.Write([]byte(chunkHeader)); err != nil {
		return socketErr(err)
	}
	if _, err := c.nc.Write(buf); err != nil {
		return socketErr(err)
	}
	if _, err := c.nc.Write([]byte("\r\n")); err != nil {
		return socketErr(err)
	}
	return nil
}

// Close sends the terminating zero-length chunk and closes the connection.
func (c *Conn) Close() error {
	c.nc.Write([]byte("0\r\n\r\n"))
	return c.nc.Close()
}
