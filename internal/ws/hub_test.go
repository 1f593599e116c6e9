package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/sweatstake/game-engine/internal/model"
)

type stubSnapshotter struct {
	history   []model.TimeOdds
	standings []model.LeaderboardEntry
	err       error
}

func (s *stubSnapshotter) Snapshot(_ context.Context) ([]model.TimeOdds, []model.LeaderboardEntry, error) {
	return s.history, s.standings, s.err
}

// startHub runs a hub behind an httptest server and returns its ws:// URL.
func startHub(t *testing.T, snap Snapshotter) (*Hub, string) {
	t.Helper()
	hub := NewHub(snap)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return msg
}

func TestHandleWS_SnapshotOnConnectOrdering(t *testing.T) {
	snap := &stubSnapshotter{
		history: []model.TimeOdds{{
			ID: "to1", GameID: "g1", Time: time.Now(),
			HomeWinProb: 60, AwayWinProb: 40,
			HomePrice: decimal.NewFromInt(166), AwayPrice: decimal.NewFromInt(250),
		}},
		standings: []model.LeaderboardEntry{
			{UserID: "u1", Username: "alice", Bankroll: decimal.NewFromInt(325)},
		},
	}
	_, url := startHub(t, snap)
	conn := dial(t, url)

	// History always precedes standings in the connect snapshot.
	first := readMessage(t, conn)
	if first.Type != MsgOddsHistory {
		t.Fatalf("first message = %s, want %s", first.Type, MsgOddsHistory)
	}
	second := readMessage(t, conn)
	if second.Type != MsgLeaderboardUpdate {
		t.Fatalf("second message = %s, want %s", second.Type, MsgLeaderboardUpdate)
	}
}

func TestHandleWS_NoSnapshotWhenEmpty(t *testing.T) {
	_, url := startHub(t, &stubSnapshotter{})
	conn := dial(t, url)

	// Nothing queued on connect; a ping round trip is the first traffic.
	if err := conn.WriteJSON(Message{Type: MsgPing}); err != nil {
		t.Fatal(err)
	}
	msg := readMessage(t, conn)
	if msg.Type != MsgPong {
		t.Fatalf("got %s, want %s", msg.Type, MsgPong)
	}
}

func TestHandleWS_PingPong(t *testing.T) {
	_, url := startHub(t, &stubSnapshotter{})
	conn := dial(t, url)

	if err := conn.WriteJSON(Message{Type: MsgPing}); err != nil {
		t.Fatal(err)
	}
	msg := readMessage(t, conn)
	if msg.Type != MsgPong {
		t.Fatalf("got %s, want %s", msg.Type, MsgPong)
	}
}

func TestBroadcastReachesAllClients(t *testing.T) {
	hub, url := startHub(t, &stubSnapshotter{})

	c1 := dial(t, url)
	c2 := dial(t, url)

	// A ping round trip per connection proves registration completed
	// before the broadcast goes out.
	for _, conn := range []*websocket.Conn{c1, c2} {
		if err := conn.WriteJSON(Message{Type: MsgPing}); err != nil {
			t.Fatal(err)
		}
		if msg := readMessage(t, conn); msg.Type != MsgPong {
			t.Fatalf("handshake got %s", msg.Type)
		}
	}

	hub.BroadcastGameEnd()

	for _, conn := range []*websocket.Conn{c1, c2} {
		msg := readMessage(t, conn)
		if msg.Type != MsgGameEnd {
			t.Fatalf("got %s, want %s", msg.Type, MsgGameEnd)
		}
	}
}

func TestBroadcastOddsHistoryPayload(t *testing.T) {
	hub, url := startHub(t, &stubSnapshotter{})
	conn := dial(t, url)

	if err := conn.WriteJSON(Message{Type: MsgPing}); err != nil {
		t.Fatal(err)
	}
	if msg := readMessage(t, conn); msg.Type != MsgPong {
		t.Fatalf("handshake got %s", msg.Type)
	}

	hub.BroadcastOddsHistory([]model.TimeOdds{
		{ID: "to1", GameID: "g1", HomeWinProb: 75, AwayWinProb: 25},
		{ID: "to2", GameID: "g1", HomeWinProb: 80, AwayWinProb: 20},
	})

	msg := readMessage(t, conn)
	if msg.Type != MsgOddsHistory {
		t.Fatalf("got %s, want %s", msg.Type, MsgOddsHistory)
	}
	items, ok := msg.Data.([]any)
	if !ok || len(items) != 2 {
		t.Fatalf("payload is not the full 2-snapshot history: %v", msg.Data)
	}
}

func TestClientDisconnectUnregisters(t *testing.T) {
	hub, url := startHub(t, &stubSnapshotter{})
	conn := dial(t, url)

	if err := conn.WriteJSON(Message{Type: MsgPing}); err != nil {
		t.Fatal(err)
	}
	if msg := readMessage(t, conn); msg.Type != MsgPong {
		t.Fatalf("handshake got %s", msg.Type)
	}
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		hub.mu.RLock()
		n := len(hub.clients)
		hub.mu.RUnlock()
		if n == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("client never unregistered after disconnect")
}
