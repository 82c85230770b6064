// Package llm talks to an OpenAI-compatible chat completion endpoint on
// behalf of the translation stage.
//
// TranslateBatch sends numbered subtitle lines, each with an optional
// MAX_CHARS reading speed budget, and requires an answer for every id.
// Condense shortens one line that still reads too fast after translation.
// HealthCheck verifies the key and model for preflight.
//
// A single call retries HTTP 408, 429 and 5xx answers, empty completions and
// network timeouts inside the client, honouring Retry-After. Whatever error
// is left is wrapped with a services failure category, so the orchestrator
// can decide between another attempt and failing the branch.
package llm
