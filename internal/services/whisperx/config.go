package whisperx

// Config captures runtime settings for WhisperX operations.
type Config struct {
	// Binary is the uvx launcher used to run WhisperX.
	Binary string
	// Model is the WhisperX model to use (e.g., "large-v3").
	Model string
	// CUDAEnabled enables GPU acceleration.
	CUDAEnabled bool
	// VADMethod selects the voice activity detection method ("silero" or "pyannote").
	VADMethod string
	// HFToken is the Hugging Face token for pyannote VAD.
	HFToken string
}

// WhisperX configuration constants.
const (
	DefaultModel      = "large-v3"
	CUDAIndexURL      = "https://download.pytorch.org/whl/cu128"
	PypiIndexURL      = "https://pypi.org/simple"
	BatchSize         = "4"
	ChunkSize         = "15"
	VADOnset          = "0.08"
	VADOffset         = "0.07"
	BeamSize          = "10"
	BestOf            = "10"
	Temperature       = "0.0"
	Patience          = "1.0"
	SegmentResolution = "sentence"
	OutputFormat      = "json"
	CPUDevice         = "cpu"
	CUDADevice        = "cuda"
	CPUComputeType    = "float32"
	VADMethodPyannote = "pyannote"
	VADMethodSilero   = "silero"
)

// UVXCommand is the default launcher binary.
const UVXCommand = "uvx"

// Env returns environment overrides WhisperX needs. Torch 2.6 changed
// torch.load to weights_only=true, which breaks WhisperX/pyannote
// checkpoints.
func Env() []string {
	return []string{"TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1"}
}
