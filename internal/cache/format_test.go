package cache

import "testing"

func TestSniffFormat(t *testing.T) {
	tests := []struct {
		name  string
		audio []byte
		want  string
	}{
		{"wav", []byte("RIFF\x24\x08\x00\x00WAVEfmt "), "wav"},
		{"flac", []byte("fLaC\x00\x00\x00\x22"), "flac"},
		{"ogg opus", []byte("OggS\x00\x02"), "opus"},
		{"mp3 with id3", []byte("ID3\x04\x00"), "mp3"},
		{"mp3 frame", []byte{0xFF, 0xFB, 0x90, 0x64}, "mp3"},
		{"adts aac", []byte{0xFF, 0xF1, 0x50, 0x80}, "aac"},
		{"riff but not wave", []byte("RIFF\x24\x08\x00\x00AVI "), ""},
		{"raw pcm", []byte{0x01, 0x02, 0x03, 0x04}, ""},
		{"text", []byte("audio:hello"), ""},
		{"empty", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SniffFormat(tt.audio); got != tt.want {
				t.Errorf("SniffFormat() = %q, want %q", got, tt.want)
			}
		})
	}
}
