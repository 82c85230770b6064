// Package toolexec runs the external media tools (ffmpeg, demucs, whisperx,
// TTS commands) as killable process groups.
package toolexec
