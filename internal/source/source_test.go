package source

import (
	"bufio"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"
)

func listenerPort(t *testing.T, ln net.Listener) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("splitting listener address: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parsing port: %v", err)
	}
	return port
}

func TestConnectSendsAuthAndMetadataHeaders(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	serverDone := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		reader := bufio.NewReader(conn)
		tp := textproto.NewReader(reader)
		requestLine, _ := tp.ReadLine()
		headers, _ := tp.ReadMIMEHeader()

		serverDone <- requestLine + "|" + headers.Get("Authorization") + "|" + headers.Get("Ice-Name")

		conn.Write([]byte("HTTP/1.1 200 OK\r\n\r\n"))
	}()

	p := Params{
		Hostname:    "127.0.0.1",
		Port:        listenerPort(t, ln),
		Password:    "hackme",
		Mount:       "/live.ogg",
		Name:        "Test Stream",
		ContentType: "application/ogg",
		DialTimeout: 2 * time.Second,
	}

	conn, err := Connect(p)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	select {
	case got := <-serverDone:
		if !strings.HasPrefix(got, "PUT /live.ogg") {
			t.Fatalf("request line = %q, want PUT /live.ogg prefix", got)
		}
		if !strings.Contains(got, "Basic ") {
			t.Fatalf("missing Basic auth header: %q", got)
		}
		if !strings.Contains(got, "Test Stream") {
			t.Fatalf("missing ice-name header: %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server never received a request")
	}
}

func TestConnectDefaultsUsernameToSource(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	authCh := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		reader := bufio.NewReader(conn)
		tp := textproto.NewReader(reader)
		tp.ReadLine()
		headers, _ := tp.ReadMIMEHeader()
		authCh <- headers.Get("Authorization")
		conn.Write([]byte("HTTP/1.1 200 OK\r\n\r\n"))
	}()

	p := Params{
		Hostname: "127.0.0.1",
		Port:     listenerPort(t, ln),
		Password: "hackme",
		Mount:    "/live.ogg",
	}
	conn, err := Connect(p)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	select {
	case got := <-authCh:
		// base64("source:hackme")
		if !strings.Contains(got, "c291cmNlOmhhY2ttZQ==") {
			t.Fatalf("Authorization = %q, want base64(source:hackme)", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server never received a request")
	}
}

func TestConnectReturnsRefusedOnNon2xx(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		bufio.NewReader(conn) // drain isn't necessary for this test
		conn.Write([]byte("HTTP/1.1 403 Forbidden\r\n\r\n"))
	}()

	p := Params{Hostname: "127.0.0.1", Port: listenerPort(t, ln), Mount: "/x", DialTimeout: 2 * time.Second}
	_, err = Connect(p)
	if err == nil {
		t.Fatalf("Connect should have failed on 403")
	}
	var srcErr *Error
	if !asError(err, &srcErr) {
		t.Fatalf("error is not a *source.Error: %v", err)
	}
	if srcErr.Kind != KindRefused {
		t.Fatalf("Kind = %v, want KindRefused", srcErr.Kind)
	}
}

func TestConnectReturnsSocketErrorOnUnreachableHost(t *testing.T) {
	p := Params{Hostname: "127.0.0.1", Port: 1, DialTimeout: 200 * time.Millisecond}
	_, err := Connect(p)
	if err == nil {
		t.Fatalf("Connect to a closed port should fail")
	}
	var srcErr *Error
	if !asError(err, &srcErr) {
		t.Fatalf("error is not a *source.Error: %v", err)
	}
	if srcErr.Kind != KindSocket {
		t.Fatalf("Kind = %v, want KindSocket", srcErr.Kind)
	}
}

func asError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = e
	return true
}
