package tts_test

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/MrWong99/callagent/pkg/audio"
	"github.com/MrWong99/callagent/pkg/provider/tts"
	"github.com/MrWong99/callagent/pkg/provider/tts/mock"
)

func TestWithGain_Scales(t *testing.T) {
	pcm := make([]byte, 4)
	binary.LittleEndian.PutUint16(pcm[0:], uint16(int16(1000)))
	neg := int16(-30000)
	binary.LittleEndian.PutUint16(pcm[2:], uint16(neg))
	inner := &mock.Provider{Audio: audio.EncodeWAV(pcm, audio.Format{SampleRate: 16000, Channels: 1})}

	p := tts.WithGain(inner, 2.0)
	out, err := p.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	got, _, err := audio.DecodeWAV(out)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if v := int16(binary.LittleEndian.Uint16(got[0:])); v != 2000 {
		t.Errorf("sample 0: want 2000, got %d", v)
	}
	if v := int16(binary.LittleEndian.Uint16(got[2:])); v != -32768 {
		t.Errorf("sample 1 should clamp: want -32768, got %d", v)
	}
}

func TestWithGain_UnityIsIdentity(t *testing.T) {
	inner := &mock.Provider{}
	if p := tts.WithGain(inner, 1.0); p != tts.Provider(inner) {
		t.Error("unity gain should return the wrapped provider")
	}
}

func TestWithGain_NonWAVPassesThrough(t *testing.T) {
	inner := &mock.Provider{Audio: []byte("ID3 mp3 payload")}
	out, err := tts.WithGain(inner, 0.5).Synthesize(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(out) != "ID3 mp3 payload" {
		t.Errorf("non-WAV payload should pass through, got %q", out)
	}
}
