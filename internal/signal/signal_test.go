package signal_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"duocall/internal/signal"
)

// echoRelay accepts one connection and echoes back any message sent to it,
// simulating a relay that simply forwards to the one peer under test.
func echoRelay(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var m signal.Message
			if err := conn.ReadJSON(&m); err != nil {
				return
			}
			if err := conn.WriteJSON(m); err != nil {
				return
			}
		}
	}))
}

func wsAddr(serverURL string) string {
	return strings.TrimPrefix(strings.TrimPrefix(serverURL, "http://"), "https://")
}

func TestDialRegistersPeer(t *testing.T) {
	srv := echoRelay(t)
	defer srv.Close()

	conn, err := signal.Dial(wsAddr(srv.URL), "alice")
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	msg, err := conn.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if msg.Type != signal.Register || msg.From != "alice" {
		t.Errorf("expected register message from alice, got %+v", msg)
	}
}

func TestSendOfferAndAnswer(t *testing.T) {
	srv := echoRelay(t)
	defer srv.Close()

	conn, err := signal.Dial(wsAddr(srv.URL), "alice")
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Recv(); err != nil {
		t.Fatalf("Recv register echo failed: %v", err)
	}

	if err := conn.SendOffer("bob", "sdp-offer-body"); err != nil {
		t.Fatalf("SendOffer failed: %v", err)
	}
	msg, err := conn.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if msg.Type != signal.Offer || msg.To != "bob" || msg.SDP != "sdp-offer-body" {
		t.Errorf("unexpected offer echo: %+v", msg)
	}

	if err := conn.SendAnswer("bob", "sdp-answer-body"); err != nil {
		t.Fatalf("SendAnswer failed: %v", err)
	}
	msg, err = conn.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if msg.Type != signal.Answer || msg.SDP != "sdp-answer-body" {
		t.Errorf("unexpected answer echo: %+v", msg)
	}
}

func TestSendCandidate(t *testing.T) {
	srv := echoRelay(t)
	defer srv.Close()

	conn, err := signal.Dial(wsAddr(srv.URL), "alice")
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Recv(); err != nil {
		t.Fatalf("Recv register echo failed: %v", err)
	}

	if err := conn.SendCandidate("bob", []byte(`{"candidate":"fake"}`)); err != nil {
		t.Fatalf("SendCandidate failed: %v", err)
	}
	msg, err := conn.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if msg.Type != signal.Candidate || msg.To != "bob" {
		t.Errorf("unexpected candidate echo: %+v", msg)
	}
}

func TestDialUnreachableRelay(t *testing.T) {
	_, err := signal.Dial("127.0.0.1:1", "alice")
	if err == nil {
		t.Error("expected error dialing an unreachable relay")
	}
}

func TestCloseUnblocksRecv(t *testing.T) {
	srv := echoRelay(t)
	defer srv.Close()

	conn, err := signal.Dial(wsAddr(srv.URL), "alice")
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	if _, err := conn.Recv(); err != nil {
		t.Fatalf("Recv register echo failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := conn.Recv()
		done <- err
	}()

	conn.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected Recv to return an error after Close")
		}
	case <-time.After(2 * time.Second):
		t.Error("Recv did not unblock after Close")
	}
}
