package broker

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/refinio/one-connect/connection"
	"github.com/refinio/one-connect/cryptoapi"
)

func startBrokerServer(t *testing.T, b *Broker) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.HandleConnection(ws)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

type testIdentity struct {
	secret cryptoapi.SecretKey
	public cryptoapi.PublicKey
	crypto cryptoapi.CryptoApi
}

func newTestIdentity(t *testing.T) testIdentity {
	t.Helper()
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var sec cryptoapi.SecretKey
	copy(sec[:], priv.Bytes())
	var pub cryptoapi.PublicKey
	copy(pub[:], priv.PublicKey().Bytes())
	api, err := cryptoapi.New(sec)
	if err != nil {
		t.Fatalf("crypto api: %v", err)
	}
	return testIdentity{secret: sec, public: pub, crypto: api}
}

// registerListener drives the client side of the registration challenge
// against a live broker connection and leaves ws parked.
func registerListener(t *testing.T, ws *websocket.Conn, id testIdentity) {
	t.Helper()

	reg := registerMessage{Command: commandRegister, PublicKey: hex.EncodeToString(id.public.Bytes())}
	regBytes, _ := json.Marshal(reg)
	if err := ws.WriteMessage(websocket.TextMessage, regBytes); err != nil {
		t.Fatalf("send register: %v", err)
	}

	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read authentication_request: %v", err)
	}
	var authReq authenticationRequestMessage
	if err := json.Unmarshal(data, &authReq); err != nil {
		t.Fatalf("unmarshal authentication_request: %v", err)
	}

	ephemeralPubBytes, err := hex.DecodeString(authReq.PublicKey)
	if err != nil || len(ephemeralPubBytes) != cryptoapi.KeySize {
		t.Fatalf("bad ephemeral public key")
	}
	var ephemeralPub cryptoapi.PublicKey
	copy(ephemeralPub[:], ephemeralPubBytes)

	session, err := id.crypto.EncryptDecryptFor(ephemeralPub)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	challengeCipher, err := hex.DecodeString(authReq.Challenge)
	if err != nil {
		t.Fatalf("decode challenge: %v", err)
	}
	challenge, err := session.DecryptWithEmbeddedNonce(challengeCipher)
	if err != nil {
		t.Fatalf("decrypt challenge: %v", err)
	}
	responseCipher, err := session.EncryptAndEmbedNonce(invert(challenge))
	if err != nil {
		t.Fatalf("encrypt response: %v", err)
	}
	resp := authenticationResponseMessage{Command: commandAuthenticationResponse, Response: hex.EncodeToString(responseCipher)}
	respBytes, _ := json.Marshal(resp)
	if err := ws.WriteMessage(websocket.TextMessage, respBytes); err != nil {
		t.Fatalf("send authentication_response: %v", err)
	}

	_, data, err = ws.ReadMessage()
	if err != nil {
		t.Fatalf("read authentication_success: %v", err)
	}
	var success authenticationSuccessMessage
	if err := json.Unmarshal(data, &success); err != nil || success.Command != commandAuthenticationSuccess {
		t.Fatalf("expected authentication_success, got %s", data)
	}
}

func TestBrokerRegistersAndSplicesDialerToListener(t *testing.T) {
	b := New(Config{PingInterval: time.Hour, PingRTT: time.Hour})
	url := startBrokerServer(t, b)

	listenerID := newTestIdentity(t)
	dialerID := newTestIdentity(t)

	listenerWS := dial(t, url)
	registerListener(t, listenerWS, listenerID)

	dialerWS := dial(t, url)
	req := communicationRequestMessage{
		Command:         commandCommunicationRequest,
		SourcePublicKey: hex.EncodeToString(dialerID.public.Bytes()),
		TargetPublicKey: hex.EncodeToString(listenerID.public.Bytes()),
	}
	reqBytes, _ := json.Marshal(req)
	if err := dialerWS.WriteMessage(websocket.TextMessage, reqBytes); err != nil {
		t.Fatalf("send communication_request: %v", err)
	}

	// The broker announces the handover, then forwards the
	// communication_request verbatim to the dequeued listener.
	listenerWS.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, handover, err := listenerWS.ReadMessage()
	if err != nil {
		t.Fatalf("listener read connection_handover: %v", err)
	}
	var handoverMsg connectionHandoverMessage
	if err := json.Unmarshal(handover, &handoverMsg); err != nil || handoverMsg.Command != commandConnectionHandover {
		t.Fatalf("expected connection_handover, got %s", handover)
	}

	listenerWS.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, forwarded, err := listenerWS.ReadMessage()
	if err != nil {
		t.Fatalf("listener read forwarded request: %v", err)
	}
	var forwardedReq communicationRequestMessage
	if err := json.Unmarshal(forwarded, &forwardedReq); err != nil || forwardedReq.Command != commandCommunicationRequest {
		t.Fatalf("unexpected forwarded frame: %s", forwarded)
	}
	if forwardedReq.SourcePublicKey != req.SourcePublicKey {
		t.Fatalf("forwarded request source key mismatch")
	}

	// Now the splice is live: anything either side writes reaches the other.
	if err := listenerWS.WriteMessage(websocket.BinaryMessage, []byte("hello dialer")); err != nil {
		t.Fatalf("listener write: %v", err)
	}
	dialerWS.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, echoed, err := dialerWS.ReadMessage()
	if err != nil {
		t.Fatalf("dialer read spliced frame: %v", err)
	}
	if string(echoed) != "hello dialer" {
		t.Fatalf("got %q, want %q", echoed, "hello dialer")
	}

	if err := dialerWS.WriteMessage(websocket.BinaryMessage, []byte("hello listener")); err != nil {
		t.Fatalf("dialer write: %v", err)
	}
	listenerWS.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, echoed2, err := listenerWS.ReadMessage()
	if err != nil {
		t.Fatalf("listener read spliced frame: %v", err)
	}
	if string(echoed2) != "hello listener" {
		t.Fatalf("got %q, want %q", echoed2, "hello listener")
	}
}

func TestBrokerRejectsDialWithNoListener(t *testing.T) {
	b := New(Config{})
	url := startBrokerServer(t, b)

	_, targetPub := newTestIdentity(t).public, newTestIdentity(t).public
	_ = targetPub
	dialerID := newTestIdentity(t)
	nobody := newTestIdentity(t)

	dialerWS := dial(t, url)
	req := communicationRequestMessage{
		Command:         commandCommunicationRequest,
		SourcePublicKey: hex.EncodeToString(dialerID.public.Bytes()),
		TargetPublicKey: hex.EncodeToString(nobody.public.Bytes()),
	}
	reqBytes, _ := json.Marshal(req)
	dialerWS.WriteMessage(websocket.TextMessage, reqBytes)

	dialerWS.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := dialerWS.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected a close error, got %v", err)
	}
	if closeErr.Text != connection.CloseReasonNoListenerForTarget {
		t.Fatalf("close reason = %q, want %q", closeErr.Text, connection.CloseReasonNoListenerForTarget)
	}
}

func TestBrokerSpareQueueEvictsOldest(t *testing.T) {
	b := New(Config{SpareQueueSize: 2, PingInterval: time.Hour, PingRTT: time.Hour})
	url := startBrokerServer(t, b)

	id := newTestIdentity(t)

	first := dial(t, url)
	registerListener(t, first, id)
	second := dial(t, url)
	registerListener(t, second, id)
	third := dial(t, url)
	registerListener(t, third, id)

	// The oldest parked socket ("first") must have been evicted and closed.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	if err == nil {
		t.Fatal("expected the evicted listener socket to be closed")
	}
}
