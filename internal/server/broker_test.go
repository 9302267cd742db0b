package server_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/playperu/league/internal/server"
)

func TestBrokerPublish(t *testing.T) {
	b := server.NewBroker()
	ch := b.Subscribe("league_a")
	other := b.Subscribe("league_b")

	b.Publish("league_a", server.Event{Type: "round_completed", Data: map[string]int{"round": 2}})

	select {
	case data := <-ch:
		var ev struct {
			Type string         `json:"type"`
			Data map[string]int `json:"data"`
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatal(err)
		}
		if ev.Type != "round_completed" || ev.Data["round"] != 2 {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	select {
	case data := <-other:
		t.Errorf("other topic received %s", data)
	default:
	}

	b.Unsubscribe("league_a", ch)
	b.Publish("league_a", server.Event{Type: "ignored"})
	select {
	case data := <-ch:
		t.Errorf("unsubscribed channel received %s", data)
	default:
	}
}

func TestBrokerDropsForSlowSubscriber(t *testing.T) {
	b := server.NewBroker()
	ch := b.Subscribe("league")
	for range 100 {
		b.Publish("league", server.Event{Type: "tick"})
	}
	if len(ch) != cap(ch) {
		t.Errorf("buffered %d events, want %d", len(ch), cap(ch))
	}
}

func TestHandleEvents(t *testing.T) {
	b := server.NewBroker()
	srv := httptest.NewServer(server.HandleEvents(b, "league"))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content-type = %q", got)
	}

	// The handler subscribes after flushing headers; keep publishing until
	// an event arrives.
	go func() {
		for ctx.Err() == nil {
			b.Publish("league", server.Event{Type: "standings"})
			time.Sleep(10 * time.Millisecond)
		}
	}()

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "data: ") {
			if !strings.Contains(line, `"standings"`) {
				t.Errorf("data line = %q", line)
			}
			return
		}
	}
	t.Fatalf("stream ended without data: %v", sc.Err())
}
