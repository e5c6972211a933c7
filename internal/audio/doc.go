// Package audio plays synthesized audio files through an operating system
// player command. Decoding is left to that command.
package audio
