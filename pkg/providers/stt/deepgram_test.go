package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

func newDeepgramTestServer(t *testing.T, transcript string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.TextMessage {
				var closeMsg struct {
					Type string `json:"type"`
				}
				if json.Unmarshal(data, &closeMsg) == nil && closeMsg.Type == "CloseStream" {
					res := deepgramResult{IsFinal: true}
					res.Channel.Alternatives = []struct {
						Transcript string `json:"transcript"`
					}{{Transcript: transcript}}
					payload, _ := json.Marshal(res)
					conn.WriteMessage(websocket.TextMessage, payload)
					return
				}
			}
		}
	}))
	return server
}

func TestDeepgramSTTTranscribe(t *testing.T) {
	server := newDeepgramTestServer(t, "deepgram transcription")
	defer server.Close()

	s := &DeepgramSTT{
		apiKey: "test-key",
		url:    "ws" + strings.TrimPrefix(server.URL, "http"),
	}

	result, err := s.Transcribe(context.Background(), make([]byte, deepgramFrameSize*2), 16000, "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "deepgram transcription" {
		t.Errorf("expected 'deepgram transcription', got %q", result)
	}
}

func TestDeepgramSTTName(t *testing.T) {
	s := NewDeepgramSTT("test-key")
	if s.Name() != "deepgram-stt" {
		t.Errorf("expected deepgram-stt, got %s", s.Name())
	}
}

func TestDeepgramSTTUnauthorized(t *testing.T) {
	server := newDeepgramTestServer(t, "unused")
	defer server.Close()

	s := &DeepgramSTT{
		apiKey: "wrong-key",
		url:    "ws" + strings.TrimPrefix(server.URL, "http"),
	}

	_, err := s.Transcribe(context.Background(), []byte{0}, 16000, "en")
	if err == nil {
		t.Fatal("expected an error for unauthorized dial")
	}
}
