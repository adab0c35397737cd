package http

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestWebSocketLeaderboardFlow(t *testing.T) {
	server, resolver := newTestServer(t)
	token, err := resolver.IssueToken("u1", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	u := "ws" + server.URL[len("http"):] + "/ws/leaderboard?top=3&access_token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Expect the current snapshot first.
	_, payload := readNext(conn, t, "leaderboard")
	if payload == nil {
		t.Fatalf("expected leaderboard payload, got nil")
	}

	submit := map[string]any{
		"type": "submit",
		"payload": map[string]any{
			"kind":       "quiz",
			"activityId": "quiz-1",
			"answers":    [][]string{{"yes"}},
		},
	}
	if err := conn.WriteJSON(submit); err != nil {
		t.Fatalf("write submit: %v", err)
	}

	resultSeen := false
	leaderboardSeen := false
	for i := 0; i < 3 && !(resultSeen && leaderboardSeen); i++ {
		typ, payload := readNext(conn, t, "")
		switch typ {
		case "submissionResult":
			resultSeen = true
			if payload["totalPoints"] != float64(10) {
				t.Fatalf("expected 10 points, got %v", payload["totalPoints"])
			}
		case "leaderboard":
			entries, _ := payload["entries"].([]any)
			if len(entries) == 1 {
				leaderboardSeen = true
			}
		}
	}
	if !resultSeen || !leaderboardSeen {
		t.Fatalf("expected submissionResult and leaderboard, got submissionResult=%v leaderboard=%v", resultSeen, leaderboardSeen)
	}

	if err := conn.WriteJSON(map[string]any{"type": "ping"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readNext(conn, t, "error")
}

func TestWebSocketRequiresToken(t *testing.T) {
	server, _ := newTestServer(t)

	u := "ws" + server.URL[len("http"):] + "/ws/leaderboard"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatalf("expected dial to fail without token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestOutboxPushDoesNotBlockAfterWriterFailure(t *testing.T) {
	out := newOutbox(1)
	go out.run(func(outboundMessage[any]) error { return errors.New("broken pipe") })

	// the first message kills the writer
	out.push(outboundMessage[any]{Type: "leaderboard"})
	<-out.done

	pushed := make(chan bool, 1)
	go func() {
		for i := 0; i < 4; i++ {
			if !out.push(outboundMessage[any]{Type: "leaderboard"}) {
				pushed <- false
				return
			}
		}
		pushed <- true
	}()
	select {
	case ok := <-pushed:
		if ok {
			t.Fatalf("expected push to report the stopped writer")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("push blocked after the writer stopped")
	}
	out.close()
}

func TestOutboxDeliversInOrder(t *testing.T) {
	out := newOutbox(4)
	var got []string
	go out.run(func(msg outboundMessage[any]) error {
		got = append(got, msg.Type)
		return nil
	})
	for _, typ := range []string{"leaderboard", "submissionResult", "error"} {
		if !out.push(outboundMessage[any]{Type: typ}) {
			t.Fatalf("push %s failed", typ)
		}
	}
	out.close()
	if len(got) != 3 || got[0] != "leaderboard" || got[2] != "error" {
		t.Fatalf("unexpected delivery order %v", got)
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s", expect, msg.Type)
	}
	return msg.Type, msg.Payload
}
