package handshake

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/refinio/one-connect/connection"
	"github.com/refinio/one-connect/cryptoapi"
)

func mustKeys(t *testing.T) (cryptoapi.SecretKey, cryptoapi.PublicKey) {
	t.Helper()
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var sec cryptoapi.SecretKey
	copy(sec[:], priv.Bytes())
	var pub cryptoapi.PublicKey
	copy(pub[:], priv.PublicKey().Bytes())
	return sec, pub
}

func newConnectedPair(t *testing.T) (dialer, acceptor *connection.Connection) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	serverConnCh := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverConnCh <- conn
	}))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	clientWS, _, err := websocket.DefaultDialer.DialContext(context.Background(), wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	serverWS := <-serverConnCh

	dialer = connection.New(clientWS, nil)
	acceptor = connection.New(serverWS, nil)
	return dialer, acceptor
}

type noopHandler struct{}

func (noopHandler) OnOpened(c *connection.Connection)                                        {}
func (noopHandler) OnMessage(c *connection.Connection, evt connection.Event)                  {}
func (noopHandler) OnClosed(c *connection.Connection, reason string, o connection.CloseOrigin) {}

type recordingHandler struct {
	message chan connection.Event
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{message: make(chan connection.Event, 4)}
}

func (h *recordingHandler) OnOpened(c *connection.Connection) {}
func (h *recordingHandler) OnMessage(c *connection.Connection, evt connection.Event) {
	h.message <- evt
}
func (h *recordingHandler) OnClosed(c *connection.Connection, reason string, o connection.CloseOrigin) {
}

func TestHandshakeCompletesAndInstallsEncryption(t *testing.T) {
	dialerConn, acceptorConn := newConnectedPair(t)

	dialerSecret, dialerPublic := mustKeys(t)
	acceptorSecret, acceptorPublic := mustKeys(t)

	dialerCrypto, err := cryptoapi.New(dialerSecret)
	if err != nil {
		t.Fatalf("dialer crypto: %v", err)
	}
	acceptorCrypto, err := cryptoapi.New(acceptorSecret)
	if err != nil {
		t.Fatalf("acceptor crypto: %v", err)
	}

	dialerPromise := connection.NewPromisePlugin(4)
	acceptorPromise := connection.NewPromisePlugin(4)
	dialerConn.AddPlugin(dialerPromise)
	acceptorConn.AddPlugin(acceptorPromise)

	dialerConn.SetHandler(noopHandler{})
	acceptorHandler := newRecordingHandler()
	acceptorConn.SetHandler(acceptorHandler)
	dialerConn.Start()
	acceptorConn.Start()

	dialerHS := New(dialerConn, dialerPromise, Config{
		Role:            RoleDialer,
		LocalCrypto:     dialerCrypto,
		RemotePublicKey: acceptorPublic,
	})
	acceptorHS := New(acceptorConn, acceptorPromise, Config{
		Role:        RoleAcceptor,
		LocalCrypto: acceptorCrypto,
	})

	type outcome struct {
		result *Result
		err    error
	}
	dialerCh := make(chan outcome, 1)
	acceptorCh := make(chan outcome, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		r, err := dialerHS.Run(ctx)
		dialerCh <- outcome{r, err}
	}()
	go func() {
		r, err := acceptorHS.Run(ctx)
		acceptorCh <- outcome{r, err}
	}()

	dOut := <-dialerCh
	aOut := <-acceptorCh

	if dOut.err != nil {
		t.Fatalf("dialer handshake failed: %v", dOut.err)
	}
	if aOut.err != nil {
		t.Fatalf("acceptor handshake failed: %v", aOut.err)
	}
	if dOut.result.RemotePublicKey != acceptorPublic {
		t.Fatalf("dialer learned wrong remote key")
	}
	if aOut.result.RemotePublicKey != dialerPublic {
		t.Fatalf("acceptor learned wrong remote key")
	}

	if _, ok := dialerConn.GetPlugin(connection.EncryptionPluginName); !ok {
		t.Fatal("dialer missing encryption plugin after handshake")
	}
	if _, ok := acceptorConn.GetPlugin(connection.EncryptionPluginName); !ok {
		t.Fatal("acceptor missing encryption plugin after handshake")
	}

	// Post-handshake application traffic must round-trip through the
	// newly installed encryption plugin.
	if err := dialerConn.Send(connection.TextMessage("hello over the encrypted channel")); err != nil {
		t.Fatalf("post-handshake send: %v", err)
	}
	select {
	case evt := <-acceptorHandler.message:
		if !evt.IsText || evt.Text != "hello over the encrypted channel" {
			t.Fatalf("got %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("post-handshake message never arrived")
	}

	// A second handshake attempt on the same socket must be refused.
	if _, err := dialerHS.Run(ctx); err == nil {
		t.Fatal("expected error retrying handshake on the same connection")
	}
}

func TestHandshakeFailsOnTargetMismatch(t *testing.T) {
	dialerConn, acceptorConn := newConnectedPair(t)

	dialerSecret, _ := mustKeys(t)
	acceptorSecret, _ := mustKeys(t)
	_, wrongTarget := mustKeys(t)

	dialerCrypto, _ := cryptoapi.New(dialerSecret)
	acceptorCrypto, _ := cryptoapi.New(acceptorSecret)

	dialerPromise := connection.NewPromisePlugin(4)
	acceptorPromise := connection.NewPromisePlugin(4)
	dialerConn.AddPlugin(dialerPromise)
	acceptorConn.AddPlugin(acceptorPromise)
	dialerConn.SetHandler(noopHandler{})
	acceptorConn.SetHandler(noopHandler{})
	dialerConn.Start()
	acceptorConn.Start()

	dialerHS := New(dialerConn, dialerPromise, Config{
		Role:            RoleDialer,
		LocalCrypto:     dialerCrypto,
		RemotePublicKey: wrongTarget, // not acceptor's real key
		StepTimeout:     2 * time.Second,
	})
	acceptorHS := New(acceptorConn, acceptorPromise, Config{
		Role:        RoleAcceptor,
		LocalCrypto: acceptorCrypto,
		StepTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	acceptorErrCh := make(chan error, 1)
	go func() {
		_, err := acceptorHS.Run(ctx)
		acceptorErrCh <- err
	}()

	// The acceptor rejects a request addressed to the wrong target and closes
	// the socket, so the dialer's pending step fails with the connection.
	_, dialerErr := dialerHS.Run(ctx)
	if dialerErr == nil {
		t.Fatal("expected dialer handshake to fail")
	}
	if err := <-acceptorErrCh; err == nil {
		t.Fatal("expected acceptor handshake to reject the mismatched target")
	}
}
