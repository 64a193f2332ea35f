package ethereum

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsTestServer answers eth_subscribe with a fixed subscription ID and
// pushes the provided notifications afterwards.
func wsTestServer(t *testing.T, subID string, notifications []interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var req wsRequest
			if err := json.Unmarshal(msg, &req); err != nil {
				continue
			}

			switch req.Method {
			case "eth_subscribe":
				conn.WriteJSON(wsSubscribeResponse{JSONRPC: "2.0", ID: req.ID, Result: subID})
				for _, n := range notifications {
					raw, _ := json.Marshal(n)
					conn.WriteJSON(wsNotification{
						JSONRPC: "2.0",
						Method:  "eth_subscription",
						Params:  &wsNotificationParams{Subscription: subID, Result: raw},
					})
				}
			case "eth_unsubscribe":
				// ack, ignored by the client
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWSClient_ConnectIdempotent(t *testing.T) {
	server := wsTestServer(t, "0xsub1", nil)
	defer server.Close()

	client := NewWSClient(wsURL(server), nil, nil, nil)
	defer client.Disconnect()

	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	// Second connect is a no-op.
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if !client.Connected() {
		t.Error("client should be connected")
	}
}

func TestWSClient_ConnectWhileDisabled(t *testing.T) {
	server := wsTestServer(t, "0xsub1", nil)
	defer server.Close()

	client := NewWSClient(wsURL(server), nil, nil, nil)
	client.SetEnabled(false)

	if err := client.Connect(context.Background()); err == nil {
		t.Error("Connect while disabled should fail")
	}
}

func TestWSClient_SubscribePendingTransactions(t *testing.T) {
	tx := PendingTransaction{
		Hash:  "0xAAA",
		From:  "0xDEAD",
		Input: "0x60806040526000",
	}
	server := wsTestServer(t, "0xsub1", []interface{}{tx})
	defer server.Close()

	client := NewWSClient(wsURL(server), nil, nil, nil)
	defer client.Disconnect()

	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	sub, err := client.SubscribePendingTransactions(ctx)
	if err != nil {
		t.Fatalf("SubscribePendingTransactions: %v", err)
	}

	select {
	case got := <-sub.Events():
		if got.Hash != tx.Hash || got.From != tx.From {
			t.Errorf("got %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for pending transaction")
	}

	// Cancel is idempotent.
	sub.Cancel()
	sub.Cancel()
}

func TestWSClient_SubscribeLogs(t *testing.T) {
	ev := LogEvent{
		Address:         "0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f",
		Topics:          []string{"0x0d3648bd0f6ba80134a33ba9275ac585d9d315f0ad8355cddefde31afa28d0e9"},
		Data:            "0x00",
		TransactionHash: "0xCCC",
		BlockNumber:     "0x10",
	}
	server := wsTestServer(t, "0xsub2", []interface{}{ev})
	defer server.Close()

	client := NewWSClient(wsURL(server), nil, nil, nil)
	defer client.Disconnect()

	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	sub, err := client.SubscribeLogs(ctx, LogsFilter{
		Address: ev.Address,
		Topics:  ev.Topics,
	})
	if err != nil {
		t.Fatalf("SubscribeLogs: %v", err)
	}
	defer sub.Cancel()

	select {
	case got := <-sub.Events():
		if got.TransactionHash != ev.TransactionHash {
			t.Errorf("got %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for log event")
	}
}

func TestWSClient_CancelStopsDelivery(t *testing.T) {
	server := wsTestServer(t, "0xsub3", nil)
	defer server.Close()

	client := NewWSClient(wsURL(server), nil, nil, nil)
	defer client.Disconnect()

	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	sub, err := client.SubscribeLogs(ctx, LogsFilter{Address: "0x1"})
	if err != nil {
		t.Fatalf("SubscribeLogs: %v", err)
	}

	sub.Cancel()

	// Channel must be closed after cancel.
	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Error("expected closed channel after Cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after Cancel")
	}
}

func TestWSClient_DisconnectClosesSubscriptions(t *testing.T) {
	server := wsTestServer(t, "0xsub4", nil)
	defer server.Close()

	client := NewWSClient(wsURL(server), nil, nil, nil)

	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	sub, err := client.SubscribePendingTransactions(ctx)
	if err != nil {
		t.Fatalf("SubscribePendingTransactions: %v", err)
	}

	if err := client.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Error("expected closed channel after Disconnect")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after Disconnect")
	}

	if client.Connected() {
		t.Error("client should report disconnected")
	}

	// Reconnect after a clean disconnect works.
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect after Disconnect: %v", err)
	}
	client.Disconnect()
}
