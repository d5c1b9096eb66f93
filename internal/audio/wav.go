package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// WrapWAV wraps raw 16-bit mono PCM in a RIFF/WAVE container so a finalized
// part recording can be decoded by the evaluation service without extra
// format metadata.
func WrapWAV(pcm []byte, sampleRate int) []byte {
	buf := new(bytes.Buffer)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))           // fmt chunk size
	binary.Write(buf, binary.LittleEndian, uint16(1))            // PCM
	binary.Write(buf, binary.LittleEndian, uint16(1))            // mono
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))   // sample rate
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2)) // byte rate
	binary.Write(buf, binary.LittleEndian, uint16(2))            // block align
	binary.Write(buf, binary.LittleEndian, uint16(16))           // bits per sample

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// UnwrapWAV extracts the raw PCM data and sample rate from a RIFF/WAVE buffer
// Only 16-bit mono PCM containers produced by WrapWAV are supported
func UnwrapWAV(wav []byte) ([]byte, int, error) {
	if len(wav) < 44 {
		return nil, 0, fmt.Errorf("WAV buffer too short: %d bytes", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("not a RIFF/WAVE buffer")
	}

	format := binary.LittleEndian.Uint16(wav[20:22])
	if format != 1 {
		return nil, 0, fmt.Errorf("unsupported WAV format %d (want PCM)", format)
	}

	sampleRate := int(binary.LittleEndian.Uint32(wav[24:28]))
	dataLen := int(binary.LittleEndian.Uint32(wav[40:44]))
	if 44+dataLen > len(wav) {
		dataLen = len(wav) - 44
	}

	return wav[44 : 44+dataLen], sampleRate, nil
}
