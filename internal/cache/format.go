package cache

import "bytes"

// SniffFormat identifies the audio container from its leading bytes. It
// returns "" when the container is not recognized, which includes raw PCM.
func SniffFormat(audio []byte) string {
	switch {
	case len(audio) >= 12 && bytes.Equal(audio[0:4], []byte("RIFF")) && bytes.Equal(audio[8:12], []byte("WAVE")):
		return "wav"
	case bytes.HasPrefix(audio, []byte("fLaC")):
		return "flac"
	case bytes.HasPrefix(audio, []byte("OggS")):
		return "opus"
	case bytes.HasPrefix(audio, []byte("ID3")):
		return "mp3"
	case len(audio) >= 2 && audio[0] == 0xFF && audio[1]&0xE0 == 0xE0 && audio[1]&0x06 != 0:
		// MPEG audio frame sync with a non-zero layer; ADTS uses layer 0
		return "mp3"
	case len(audio) >= 2 && audio[0] == 0xFF && audio[1]&0xF6 == 0xF0:
		return "aac"
	}
	return ""
}
