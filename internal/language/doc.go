// Package language normalizes target language codes.
//
// Task creation, branch naming, artifact file names, WhisperX, the LLM
// translation prompt and the TTS voice lookup all key on the codes returned by
// Normalize, so every caller agrees on "fr" rather than "fra", "FR" or
// "french".
package language
