package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"relingo/internal/config"
)

// Requirement defines an external binary relingo relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Requirements lists the binaries the configured stage executors invoke.
func Requirements(cfg *config.Config) []Requirement {
	if cfg == nil {
		return nil
	}
	tts := ""
	if len(cfg.Synthesis.Command) > 0 {
		tts = cfg.Synthesis.Command[0]
	}
	return []Requirement{
		{Name: "FFmpeg", Command: cfg.Tools.FFmpeg, Description: "Audio extraction, mixing and rendering"},
		{Name: "FFprobe", Command: cfg.Tools.FFprobe, Description: "Media inspection"},
		{Name: "Demucs", Command: cfg.Tools.Demucs, Description: "Vocal/background separation"},
		{Name: "uvx", Command: cfg.Tools.UVX, Description: "Runs WhisperX speech recognition"},
		{Name: "TTS", Command: tts, Description: "Speech synthesis command"},
	}
}

// Check evaluates a single requirement.
func Check(req Requirement) Status {
	cmd := strings.TrimSpace(req.Command)
	status := Status{
		Name:        req.Name,
		Command:     cmd,
		Description: strings.TrimSpace(req.Description),
		Optional:    req.Optional,
	}
	if cmd == "" {
		status.Detail = "command not configured"
		return status
	}
	if _, err := exec.LookPath(cmd); err != nil {
		status.Detail = fmt.Sprintf("binary %q not found", cmd)
		return status
	}
	status.Available = true
	return status
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		results = append(results, Check(req))
	}
	return results
}
