package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// DeepgramSTT is a SpeechToText backed by Deepgram's live transcription
// websocket rather than its batch REST endpoint: the whole utterance is
// pushed as a sequence of binary frames and the connection is closed to
// force a final result, mirroring how a live caller's audio would really
// arrive in small pieces.
type DeepgramSTT struct {
	apiKey string
	url    string
}

func NewDeepgramSTT(apiKey string) *DeepgramSTT {
	return &DeepgramSTT{
		apiKey: apiKey,
		url:    "wss://api.deepgram.com/v1/listen",
	}
}

func (s *DeepgramSTT) Name() string {
	return "deepgram-stt"
}

type deepgramResult struct {
	IsFinal bool `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

const deepgramFrameSize = 3200 // 100ms of 16kHz/16-bit mono

// Transcribe implements pipeline.SpeechToText by streaming pcm over a
// websocket connection in deepgramFrameSize chunks. It returns the latest
// non-empty transcript once the first final result arrives, the server
// closes the stream, or 10s pass; results after the first final one are
// not read.
func (s *DeepgramSTT) Transcribe(ctx context.Context, pcm []byte, sampleRate int, lang string) (string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", "nova-2")
	q.Set("smart_format", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprintf("%d", sampleRate))
	if lang != "" {
		q.Set("language", lang)
	}
	u.RawQuery = q.Encode()

	header := make(map[string][]string)
	header["Authorization"] = []string{"Token " + s.apiKey}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return "", fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	var transcript string
	var readErr error
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr = err
				return
			}
			var res deepgramResult
			if err := json.Unmarshal(data, &res); err != nil {
				continue
			}
			if len(res.Channel.Alternatives) == 0 {
				continue
			}
			if t := res.Channel.Alternatives[0].Transcript; t != "" {
				transcript = t
			}
			if res.IsFinal {
				return
			}
		}
	}()

	for off := 0; off < len(pcm); off += deepgramFrameSize {
		end := off + deepgramFrameSize
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[off:end]); err != nil {
			return "", fmt.Errorf("deepgram: write: %w", err)
		}
	}
	closeMsg, _ := json.Marshal(map[string]string{"type": "CloseStream"})
	conn.WriteMessage(websocket.TextMessage, closeMsg)

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-done:
	case <-time.After(10 * time.Second):
	}
	if readErr != nil && transcript == "" {
		return "", fmt.Errorf("deepgram: read: %w", readErr)
	}
	return transcript, nil
}
