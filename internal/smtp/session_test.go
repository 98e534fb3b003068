package smtp

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mailfold/mailfold/internal/audit"
	"github.com/mailfold/mailfold/internal/dispatch"
	"github.com/mailfold/mailfold/internal/relay"
	"github.com/mailfold/mailfold/internal/settings"
)

// memStore implements settings.Store with a fixed record.
type memStore struct {
	serverName  string
	domainsJson string
}

func (m *memStore) Load(context.Context) (*settings.Record, bool, error) {
	off := false
	empty := ""
	rec := &settings.Record{
		ServerName:          &m.serverName,
		EnableSpamFiltering: &off,
		SpamhausKey:         &empty,
		EnableSpfCheck:      &off,
		EnableDkimCheck:     &off,
		EnableDmarcCheck:    &off,
		SendGridApiKey:      &empty,
		SendGridFromEmail:   &empty,
		DomainsJson:         &m.domainsJson,
		DoNotSaveMessages:   &off,
	}
	return rec, true, nil
}

func (m *memStore) Save(context.Context, *settings.Record) error { return nil }

// recordingArchive implements archive.Archive for testing.
type recordingArchive struct {
	mu      sync.Mutex
	calls   int
	path    string
	content []byte
}

func (a *recordingArchive) Put(_ context.Context, path string, content []byte, _ map[string]string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	a.path = path
	a.content = content
	return nil
}

func (a *recordingArchive) EnsureContainerExists(context.Context) error { return nil }

func (a *recordingArchive) putCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// recordingRelay implements relay.Relay for testing.
type recordingRelay struct {
	mu    sync.Mutex
	calls int
	last  *relay.OutboundEmail
}

func (r *recordingRelay) Send(_ context.Context, msg *relay.OutboundEmail) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.last = msg
	return 202, nil
}

func (r *recordingRelay) Name() string { return "recording" }

// newTestServer builds a Server over in-memory collaborators.
func newTestServer(t *testing.T, arc *recordingArchive, rel *recordingRelay) *Server {
	t.Helper()

	store := &memStore{
		serverName:  "mail.test.com",
		domainsJson: `[{"DomainName":"example.com","ForwardingRules":[{"IncomingEmail":"fwd@example.com","DestinationEmail":"dest@other.com"}],"CatchAll":{"Type":3,"ForwardToEmail":""}}]`,
	}
	sink := audit.NewMemory()
	cache := settings.NewCache(store, sink, time.Hour)

	return New(ServerConfig{
		Hostname:   "mail.test.com",
		Dispatcher: dispatch.New(arc, rel, sink),
		Settings:   cache,
	})
}

// connPair creates a connected pair of net.Conn for testing SMTP sessions.
func connPair(t *testing.T) (client net.Conn, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer ln.Close()

	done := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		done <- conn
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}

	server = <-done
	return client, server
}

// readLine reads a line from a buffered reader.
func readLine(t *testing.T, reader *bufio.Reader) string {
	t.Helper()
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read line: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

// sendCmd sends a command to the SMTP session.
func sendCmd(t *testing.T, conn net.Conn, cmd string) {
	t.Helper()
	if _, err := conn.Write([]byte(cmd + "\r\n")); err != nil {
		t.Fatalf("failed to write command: %v", err)
	}
}

// startSession runs a session against the given server and returns the
// client side with the greeting already consumed.
func startSession(t *testing.T, srv *Server) (net.Conn, *bufio.Reader) {
	t.Helper()

	client, server := connPair(t)
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	sess := NewSession(server, srv)
	go sess.Handle(ctx)

	reader := bufio.NewReader(client)
	greeting := readLine(t, reader)
	if !strings.HasPrefix(greeting, "220 ") {
		t.Fatalf("greeting: got %q, want prefix '220 '", greeting)
	}
	return client, reader
}

func TestSession_Greeting(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &recordingArchive{}, &recordingRelay{})
	client, server := connPair(t)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess := NewSession(server, srv)
	go sess.Handle(ctx)

	reader := bufio.NewReader(client)
	greeting := readLine(t, reader)

	if !strings.HasPrefix(greeting, "220 ") {
		t.Errorf("greeting: got %q, want prefix '220 '", greeting)
	}
	if !strings.Contains(greeting, "mail.test.com") {
		t.Errorf("greeting should contain hostname, got %q", greeting)
	}
}

func TestSession_EHLOCapabilities(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &recordingArchive{}, &recordingRelay{})
	client, reader := startSession(t, srv)

	sendCmd(t, client, "EHLO client.test")

	var lines []string
	for {
		line := readLine(t, reader)
		lines = append(lines, line)
		if strings.HasPrefix(line, "250 ") {
			break
		}
	}

	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "SIZE") {
		t.Errorf("EHLO response missing SIZE, got:\n%s", joined)
	}
	// No TLS config and no credentials on this server.
	if strings.Contains(joined, "STARTTLS") {
		t.Errorf("EHLO response must not advertise STARTTLS, got:\n%s", joined)
	}
	if strings.Contains(joined, "AUTH") {
		t.Errorf("EHLO response must not advertise AUTH, got:\n%s", joined)
	}
}

func TestSession_StoreDelivery(t *testing.T) {
	t.Parallel()

	arc := &recordingArchive{}
	rel := &recordingRelay{}
	srv := newTestServer(t, arc, rel)
	client, reader := startSession(t, srv)

	sendCmd(t, client, "EHLO client.test")
	for {
		if strings.HasPrefix(readLine(t, reader), "250 ") {
			break
		}
	}

	sendCmd(t, client, "MAIL FROM:<sender@origin.com>")
	if got := readLine(t, reader); !strings.HasPrefix(got, "250") {
		t.Fatalf("MAIL: got %q", got)
	}

	sendCmd(t, client, "RCPT TO:<user@example.com>")
	if got := readLine(t, reader); !strings.HasPrefix(got, "250") {
		t.Fatalf("RCPT: got %q", got)
	}

	sendCmd(t, client, "DATA")
	if got := readLine(t, reader); !strings.HasPrefix(got, "354") {
		t.Fatalf("DATA: got %q", got)
	}

	sendCmd(t, client, "From: sender@origin.com")
	sendCmd(t, client, "Subject: Hi")
	sendCmd(t, client, "")
	sendCmd(t, client, "hello body")
	sendCmd(t, client, ".")

	if got := readLine(t, reader); !strings.HasPrefix(got, "250") {
		t.Fatalf("end of DATA: got %q", got)
	}

	if arc.putCalls() != 1 {
		t.Errorf("archive calls: got %d, want 1", arc.putCalls())
	}
	if !strings.HasPrefix(arc.path, "example.com/user/") {
		t.Errorf("archive path: got %q, want prefix example.com/user/", arc.path)
	}
	if !strings.Contains(string(arc.content), "hello body") {
		t.Error("archived content missing the message body")
	}
}

func TestSession_ForwardDelivery(t *testing.T) {
	t.Parallel()

	arc := &recordingArchive{}
	rel := &recordingRelay{}
	srv := newTestServer(t, arc, rel)
	client, reader := startSession(t, srv)

	sendCmd(t, client, "HELO client.test")
	readLine(t, reader)

	sendCmd(t, client, "MAIL FROM:<sender@origin.com>")
	readLine(t, reader)
	sendCmd(t, client, "RCPT TO:<fwd@example.com>")
	if got := readLine(t, reader); !strings.HasPrefix(got, "250") {
		t.Fatalf("RCPT: got %q", got)
	}
	sendCmd(t, client, "DATA")
	readLine(t, reader)
	sendCmd(t, client, "Subject: Forward me")
	sendCmd(t, client, "")
	sendCmd(t, client, "body")
	sendCmd(t, client, ".")
	if got := readLine(t, reader); !strings.HasPrefix(got, "250") {
		t.Fatalf("end of DATA: got %q", got)
	}

	rel.mu.Lock()
	defer rel.mu.Unlock()
	if rel.calls != 1 {
		t.Fatalf("relay calls: got %d, want 1", rel.calls)
	}
	if len(rel.last.To) != 1 || rel.last.To[0] != "dest@other.com" {
		t.Errorf("relay To: got %v, want [dest@other.com]", rel.last.To)
	}
}

func TestSession_RejectAtRCPT(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &recordingArchive{}, &recordingRelay{})
	client, reader := startSession(t, srv)

	sendCmd(t, client, "HELO client.test")
	readLine(t, reader)
	sendCmd(t, client, "MAIL FROM:<sender@origin.com>")
	readLine(t, reader)

	sendCmd(t, client, "RCPT TO:<x@unmanaged.com>")
	if got := readLine(t, reader); !strings.HasPrefix(got, "550") {
		t.Errorf("RCPT for unmanaged domain: got %q, want prefix 550", got)
	}

	// The transaction can continue with a valid recipient.
	sendCmd(t, client, "RCPT TO:<user@example.com>")
	if got := readLine(t, reader); !strings.HasPrefix(got, "250") {
		t.Errorf("RCPT for managed domain: got %q, want prefix 250", got)
	}
}

func TestSession_CommandOrdering(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &recordingArchive{}, &recordingRelay{})
	client, reader := startSession(t, srv)

	sendCmd(t, client, "MAIL FROM:<sender@origin.com>")
	if got := readLine(t, reader); !strings.HasPrefix(got, "503") {
		t.Errorf("MAIL before EHLO: got %q, want prefix 503", got)
	}

	sendCmd(t, client, "HELO client.test")
	readLine(t, reader)

	sendCmd(t, client, "RCPT TO:<user@example.com>")
	if got := readLine(t, reader); !strings.HasPrefix(got, "503") {
		t.Errorf("RCPT before MAIL: got %q, want prefix 503", got)
	}

	sendCmd(t, client, "DATA")
	if got := readLine(t, reader); !strings.HasPrefix(got, "503") {
		t.Errorf("DATA before RCPT: got %q, want prefix 503", got)
	}
}

func TestSession_OversizedMessage(t *testing.T) {
	t.Parallel()

	arc := &recordingArchive{}
	srv := newTestServer(t, arc, &recordingRelay{})
	srv.config.MaxMessageSize = 64

	client, reader := startSession(t, srv)

	sendCmd(t, client, "HELO client.test")
	readLine(t, reader)
	sendCmd(t, client, "MAIL FROM:<sender@origin.com>")
	readLine(t, reader)
	sendCmd(t, client, "RCPT TO:<user@example.com>")
	readLine(t, reader)
	sendCmd(t, client, "DATA")
	readLine(t, reader)

	sendCmd(t, client, "Subject: big")
	sendCmd(t, client, "")
	sendCmd(t, client, strings.Repeat("x", 200))
	sendCmd(t, client, ".")

	if got := readLine(t, reader); !strings.HasPrefix(got, "552") {
		t.Errorf("oversized message: got %q, want prefix 552", got)
	}
	if arc.putCalls() != 0 {
		t.Errorf("archive calls: got %d, want 0", arc.putCalls())
	}
}

func TestSession_RSETClearsTransaction(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &recordingArchive{}, &recordingRelay{})
	client, reader := startSession(t, srv)

	sendCmd(t, client, "HELO client.test")
	readLine(t, reader)
	sendCmd(t, client, "MAIL FROM:<sender@origin.com>")
	readLine(t, reader)
	sendCmd(t, client, "RCPT TO:<user@example.com>")
	readLine(t, reader)

	sendCmd(t, client, "RSET")
	if got := readLine(t, reader); !strings.HasPrefix(got, "250") {
		t.Fatalf("RSET: got %q", got)
	}

	sendCmd(t, client, "DATA")
	if got := readLine(t, reader); !strings.HasPrefix(got, "503") {
		t.Errorf("DATA after RSET: got %q, want prefix 503", got)
	}
}

func TestSession_DotStuffing(t *testing.T) {
	t.Parallel()

	arc := &recordingArchive{}
	srv := newTestServer(t, arc, &recordingRelay{})
	client, reader := startSession(t, srv)

	sendCmd(t, client, "HELO client.test")
	readLine(t, reader)
	sendCmd(t, client, "MAIL FROM:<sender@origin.com>")
	readLine(t, reader)
	sendCmd(t, client, "RCPT TO:<user@example.com>")
	readLine(t, reader)
	sendCmd(t, client, "DATA")
	readLine(t, reader)

	sendCmd(t, client, "Subject: dots")
	sendCmd(t, client, "")
	sendCmd(t, client, "..leading dot line")
	sendCmd(t, client, ".")

	if got := readLine(t, reader); !strings.HasPrefix(got, "250") {
		t.Fatalf("end of DATA: got %q", got)
	}
	if !strings.Contains(string(arc.content), "\r\n.leading dot line") {
		t.Error("dot-stuffed line must be unstuffed in the stored message")
	}
}

func TestSession_Quit(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &recordingArchive{}, &recordingRelay{})
	client, reader := startSession(t, srv)

	sendCmd(t, client, "QUIT")
	if got := readLine(t, reader); !strings.HasPrefix(got, "221") {
		t.Errorf("QUIT: got %q, want prefix 221", got)
	}
}
