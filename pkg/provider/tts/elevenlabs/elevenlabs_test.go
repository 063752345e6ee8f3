package elevenlabs

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/callagent/pkg/audio"
)

// fakeServer accepts one stream, records the client messages and replies with
// the given audio chunks followed by an isFinal message.
type fakeServer struct {
	mu       sync.Mutex
	path     string
	received []map[string]any
	chunks   [][]byte
	errMsg   string
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.path = r.URL.RequestURI()
	f.mu.Unlock()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()
	ctx := r.Context()

	// BOI, text and flush.
	for range 3 {
		var msg map[string]any
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return
		}
		f.mu.Lock()
		f.received = append(f.received, msg)
		f.mu.Unlock()
	}
	if f.errMsg != "" {
		_ = wsjson.Write(ctx, conn, map[string]any{"error": f.errMsg})
		return
	}
	for _, c := range f.chunks {
		_ = wsjson.Write(ctx, conn, map[string]any{"audio": base64.StdEncoding.EncodeToString(c)})
	}
	_ = wsjson.Write(ctx, conn, map[string]any{"isFinal": true})
	conn.Close(websocket.StatusNormalClosure, "")
}

func newTestProvider(t *testing.T, f *fakeServer, opts ...Option) *Provider {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http")
	p, err := New("test-key", "voice-abc", append([]Option{WithEndpoint(endpoint)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestSynthesize_CollectsChunksIntoWAV(t *testing.T) {
	t.Parallel()
	f := &fakeServer{chunks: [][]byte{{1, 0, 2, 0}, {3, 0}}}
	p := newTestProvider(t, f)

	wav, err := p.Synthesize(context.Background(), "Hello there.")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	pcm, format, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if string(pcm) != string([]byte{1, 0, 2, 0, 3, 0}) {
		t.Errorf("unexpected PCM: %v", pcm)
	}
	if format.SampleRate != 16000 || format.Channels != 1 {
		t.Errorf("unexpected format: %s", format)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if !strings.Contains(f.path, "/v1/text-to-speech/voice-abc/stream-input") {
		t.Errorf("unexpected path %q", f.path)
	}
	if !strings.Contains(f.path, "model_id=eleven_flash_v2_5") {
		t.Errorf("path should carry model id, got %q", f.path)
	}
	if len(f.received) != 3 {
		t.Fatalf("expected 3 client messages, got %d", len(f.received))
	}
	if f.received[0]["xi_api_key"] != "test-key" {
		t.Errorf("BOI should carry api key, got %v", f.received[0])
	}
	if f.received[1]["text"] != "Hello there. " {
		t.Errorf("unexpected text message: %v", f.received[1])
	}
	if f.received[2]["text"] != "" {
		t.Errorf("last message should be the flush command, got %v", f.received[2])
	}
}

func TestSynthesize_EmptyTextSkipsServer(t *testing.T) {
	t.Parallel()
	p, err := New("k", "v", WithEndpoint("ws://127.0.0.1:1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	wav, err := p.Synthesize(context.Background(), "   ")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if wav != nil {
		t.Errorf("expected nil payload, got %d bytes", len(wav))
	}
}

func TestSynthesize_NoAudioReturnsNil(t *testing.T) {
	t.Parallel()
	p := newTestProvider(t, &fakeServer{})
	wav, err := p.Synthesize(context.Background(), "Hi")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if wav != nil {
		t.Errorf("expected nil payload, got %d bytes", len(wav))
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	t.Parallel()
	p := newTestProvider(t, &fakeServer{errMsg: "quota exceeded"})
	_, err := p.Synthesize(context.Background(), "Hi")
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected server error, got %v", err)
	}
}

func TestSynthesize_OutputFormatRate(t *testing.T) {
	t.Parallel()
	f := &fakeServer{chunks: [][]byte{{0, 0}}}
	p := newTestProvider(t, f, WithOutputFormat("pcm_24000"))
	wav, err := p.Synthesize(context.Background(), "Hi")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	_, format, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if format.SampleRate != 24000 {
		t.Errorf("expected 24000 Hz, got %d", format.SampleRate)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		apiKey  string
		voiceID string
		opts    []Option
	}{
		{"empty key", "", "v", nil},
		{"empty voice", "k", "", nil},
		{"mp3 format", "k", "v", []Option{WithOutputFormat("mp3_44100_128")}},
		{"bad rate", "k", "v", []Option{WithOutputFormat("pcm_x")}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(tc.apiKey, tc.voiceID, tc.opts...); err == nil {
				t.Error("expected error")
			}
		})
	}
}
