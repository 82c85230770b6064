package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"relingo/internal/fileutil"
	"relingo/internal/staging"
	"relingo/internal/task"
)

var (
	// ErrMissing reports a committed artifact whose file is gone.
	ErrMissing = errors.New("artifact file missing")
	// ErrCorrupt reports a committed artifact whose size or digest changed.
	ErrCorrupt = errors.New("artifact file corrupt")
)

// Store manages the on-disk artifact tree rooted at a single directory.
type Store struct {
	root string
	now  func() time.Time
}

// New returns a Store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("artifact root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &Store{root: abs, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Root returns the absolute artifact root.
func (s *Store) Root() string {
	return s.root
}

// TaskDir returns the directory holding every artifact of a task.
func (s *Store) TaskDir(taskID string) string {
	return filepath.Join(s.root, taskID)
}

// Abs resolves an artifact path stored relative to the root.
func (s *Store) Abs(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// StagingDir returns the scratch directory for one stage run.
func (s *Store) StagingDir(taskID, runID string) string {
	return filepath.Join(s.TaskDir(taskID), staging.DirName, runID)
}

// ResetStaging removes any leftovers from a previous delivery of the run and
// recreates an empty staging directory.
func (s *Store) ResetStaging(taskID, runID string) (string, error) {
	dir := s.StagingDir(taskID, runID)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("clear staging dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	return dir, nil
}

// DiscardStaging deletes the run's staging directory.
func (s *Store) DiscardStaging(taskID, runID string) error {
	if err := os.RemoveAll(s.StagingDir(taskID, runID)); err != nil {
		return fmt.Errorf("discard staging dir: %w", err)
	}
	return nil
}

// Import copies an external file into the task's source directory. The
// original file is left untouched.
func (s *Store) Import(taskID string, kind task.ArtifactKind, srcPath string) (*task.Artifact, error) {
	if kind != task.KindSourceVideo && kind != task.KindReferenceVoice {
		return nil, fmt.Errorf("import: unsupported artifact kind %q", kind)
	}
	info, err := os.Stat(srcPath)
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", kind, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("import %s: %s is not a regular file", kind, srcPath)
	}
	dir := filepath.Join(s.TaskDir(taskID), kind.Dir())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s dir: %w", kind.Dir(), err)
	}

	base := CanonicalName(kind, "", filepath.Ext(srcPath))
	for seq := 1; ; seq++ {
		dst := filepath.Join(dir, revisionName(base, seq))
		sum, size, err := fileutil.CopyFileVerified(srcPath, dst, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("import %s: %w", kind, err)
		}
		if err := fileutil.MakeReadOnly(dst); err != nil {
			return nil, fmt.Errorf("seal %s: %w", kind, err)
		}
		return s.record(taskID, kind, "", dst, size, sum, "")
	}
}

// Commit moves a file produced in a staging directory to its canonical
// location, seals it read-only and returns the artifact record. An existing
// artifact is never overwritten: the new file gets the next free ".rN" name.
func (s *Store) Commit(taskID, runID string, kind task.ArtifactKind, language, stagedPath string) (*task.Artifact, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("commit: unknown artifact kind %q", kind)
	}
	if !filepath.IsAbs(stagedPath) {
		stagedPath = filepath.Join(s.StagingDir(taskID, runID), stagedPath)
	}
	sum, size, err := fileutil.HashFile(stagedPath)
	if err != nil {
		return nil, fmt.Errorf("commit %s: %w", kind, err)
	}

	dir := filepath.Join(s.TaskDir(taskID), kind.Dir())
	base := CanonicalName(kind, language, filepath.Ext(stagedPath))
	for seq := 1; ; seq++ {
		dst := filepath.Join(dir, revisionName(base, seq))
		err := fileutil.MoveNoReplace(stagedPath, dst)
		if errors.Is(err, fileutil.ErrExists) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("commit %s: %w", kind, err)
		}
		if err := fileutil.MakeReadOnly(dst); err != nil {
			return nil, fmt.Errorf("seal %s: %w", kind, err)
		}
		return s.record(taskID, kind, language, dst, size, sum, runID)
	}
}

// Verify checks that a committed artifact is present with its recorded size.
// With digest set the SHA256 is recomputed as well.
func (s *Store) Verify(a *task.Artifact, digest bool) error {
	if a == nil {
		return ErrMissing
	}
	path := s.Abs(a.Path)
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrMissing, a.Path)
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", a.Path, err)
	}
	if info.Size() != a.Size {
		return fmt.Errorf("%w: %s size %d, recorded %d", ErrCorrupt, a.Path, info.Size(), a.Size)
	}
	if !digest || a.SHA256 == "" {
		return nil
	}
	sum, _, err := fileutil.HashFile(path)
	if err != nil {
		return fmt.Errorf("hash %s: %w", a.Path, err)
	}
	if sum != a.SHA256 {
		return fmt.Errorf("%w: %s digest changed", ErrCorrupt, a.Path)
	}
	return nil
}

// PurgeTask removes the task's entire artifact directory.
func (s *Store) PurgeTask(taskID string) error {
	if strings.TrimSpace(taskID) == "" || strings.ContainsAny(taskID, `/\`) || taskID == "." || taskID == ".." {
		return fmt.Errorf("purge: invalid task id %q", taskID)
	}
	dir := s.TaskDir(taskID)
	// Sealed files are read-only; directories need write access to unlink.
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			_ = os.Chmod(path, 0o755)
		}
		return nil
	})
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("purge task artifacts: %w", err)
	}
	return nil
}

func (s *Store) record(taskID string, kind task.ArtifactKind, language, abs string, size int64, sum, runID string) (*task.Artifact, error) {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return nil, fmt.Errorf("relative artifact path: %w", err)
	}
	return &task.Artifact{
		ID:         uuid.NewString(),
		TaskID:     taskID,
		Kind:       kind,
		Language:   language,
		Path:       filepath.ToSlash(rel),
		Size:       size,
		SHA256:     sum,
		StageRunID: runID,
		CreatedAt:  s.now(),
	}, nil
}

// CanonicalName returns the file name an artifact of kind is stored under.
// ext keeps the producer's extension; an empty ext falls back to the kind's
// usual container.
func CanonicalName(kind task.ArtifactKind, language, ext string) string {
	if ext == "" {
		ext = defaultExt(kind)
	}
	ext = strings.ToLower(ext)
	lang := ""
	if language != "" {
		lang = "." + language
	}
	switch kind {
	case task.KindSourceVideo:
		return "source" + ext
	case task.KindReferenceVoice:
		return "reference" + ext
	case task.KindVocalTrack:
		return "vocals" + ext
	case task.KindBackgroundTrack:
		return "background" + ext
	case task.KindSilentVideo:
		return "video_silent" + ext
	case task.KindTranscript:
		return "transcript" + ext
	case task.KindTranslatedTranscript:
		return "transcript" + lang + ext
	case task.KindSpeechTrack:
		return "speech" + lang + ext
	case task.KindSubtitleFile:
		return "subtitles" + lang + ext
	case task.KindFinalVideo:
		return "final" + lang + ext
	default:
		return string(kind) + lang + ext
	}
}

func defaultExt(kind task.ArtifactKind) string {
	switch kind {
	case task.KindVocalTrack, task.KindBackgroundTrack, task.KindSpeechTrack, task.KindReferenceVoice:
		return ".wav"
	case task.KindTranscript, task.KindTranslatedTranscript:
		return ".json"
	case task.KindSubtitleFile:
		return ".srt"
	default:
		return ".mp4"
	}
}

// revisionName inserts ".rN" before the extension for seq > 1.
func revisionName(name string, seq int) string {
	if seq <= 1 {
		return name
	}
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + ".r" + strconv.Itoa(seq) + ext
}
