package audio

import (
	"encoding/binary"
	"testing"
)

func TestWrapWAV_Header(t *testing.T) {
	pcm := make([]byte, 3200) // 100ms at 16kHz
	wav := WrapWAV(pcm, 16000)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("Expected %d bytes, got %d", 44+len(pcm), len(wav))
	}

	if string(wav[0:4]) != "RIFF" {
		t.Errorf("Expected RIFF magic, got %q", wav[0:4])
	}
	if string(wav[8:12]) != "WAVE" {
		t.Errorf("Expected WAVE magic, got %q", wav[8:12])
	}

	sampleRate := binary.LittleEndian.Uint32(wav[24:28])
	if sampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", sampleRate)
	}

	dataLen := binary.LittleEndian.Uint32(wav[40:44])
	if int(dataLen) != len(pcm) {
		t.Errorf("Expected data length %d, got %d", len(pcm), dataLen)
	}
}

func TestUnwrapWAV_RoundTrip(t *testing.T) {
	pcm := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	wav := WrapWAV(pcm, 24000)

	data, rate, err := UnwrapWAV(wav)
	if err != nil {
		t.Fatalf("UnwrapWAV failed: %v", err)
	}
	if rate != 24000 {
		t.Errorf("Expected sample rate 24000, got %d", rate)
	}
	if len(data) != len(pcm) {
		t.Fatalf("Expected %d data bytes, got %d", len(pcm), len(data))
	}
	for i := range pcm {
		if data[i] != pcm[i] {
			t.Errorf("Byte %d: expected %d, got %d", i, pcm[i], data[i])
		}
	}
}

func TestUnwrapWAV_Invalid(t *testing.T) {
	if _, _, err := UnwrapWAV([]byte("too short")); err == nil {
		t.Error("Expected error for short buffer")
	}

	garbage := make([]byte, 64)
	if _, _, err := UnwrapWAV(garbage); err == nil {
		t.Error("Expected error for non-RIFF buffer")
	}
}
