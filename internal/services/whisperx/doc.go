// Package whisperx runs WhisperX speech recognition through uvx and converts
// its JSON output into canonical transcripts.
//
// Configuration options (model, CUDA, VAD method) are passed via Config;
// commands run through a toolexec.Commander so they can be cancelled as a
// process group.
package whisperx
