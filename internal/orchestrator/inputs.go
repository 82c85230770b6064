package orchestrator

import (
	"context"
	"fmt"

	"relingo/internal/services"
	"relingo/internal/stage"
	"relingo/internal/store"
	"relingo/internal/task"
)

// ReferenceVoiceAuto clones the voice from the task's own vocal track.
const ReferenceVoiceAuto = "auto"

type inputSource struct {
	producer task.Stage
	kind     task.ArtifactKind
}

// stageInputs lists, per stage, which upstream output feeds it. Producers
// that are shared stages are looked up on the shared pseudo-branch.
var stageInputs = map[task.Stage][]inputSource{
	task.StageRecognition: {
		{task.StageSeparation, task.KindVocalTrack},
	},
	task.StageTranslation: {
		{task.StageRecognition, task.KindTranscript},
	},
	task.StageSynthesis: {
		{task.StageTranslation, task.KindTranslatedTranscript},
	},
	task.StageSubtitleAssembly: {
		{task.StageTranslation, task.KindTranslatedTranscript},
	},
	task.StageRender: {
		{task.StageSeparation, task.KindSilentVideo},
		{task.StageSeparation, task.KindBackgroundTrack},
		{task.StageSynthesis, task.KindSpeechTrack},
		{task.StageSubtitleAssembly, task.KindSubtitleFile},
	},
}

// stageOutputs lists the kinds a successful run must report.
var stageOutputs = map[task.Stage][]task.ArtifactKind{
	task.StageSeparation:       {task.KindVocalTrack, task.KindBackgroundTrack, task.KindSilentVideo},
	task.StageRecognition:      {task.KindTranscript},
	task.StageTranslation:      {task.KindTranslatedTranscript},
	task.StageSynthesis:        {task.KindSpeechTrack},
	task.StageSubtitleAssembly: {task.KindSubtitleFile},
	task.StageRender:           {task.KindFinalVideo},
}

// resolveInputRefs returns the artifact ids a new run of s on branch b
// consumes. Every upstream stage has already succeeded, so a missing
// producer is an orchestration error.
func resolveInputRefs(ctx context.Context, q store.Queries, tk *task.Task, b *task.Branch, s task.Stage) ([]string, error) {
	if s == task.StageSeparation {
		if tk.SourceRef == "" {
			return nil, fmt.Errorf("task %s has no source artifact", tk.ID)
		}
		return []string{tk.SourceRef}, nil
	}

	shared := b
	if !b.IsShared() {
		var err error
		shared, err = q.GetBranchByLanguage(ctx, tk.ID, "")
		if err != nil {
			return nil, err
		}
		if shared == nil {
			return nil, fmt.Errorf("task %s has no shared branch", tk.ID)
		}
	}

	var refs []string
	for _, src := range stageInputs[s] {
		producer := b
		if src.producer.Shared() {
			producer = shared
		}
		id, err := outputOf(ctx, q, producer, src.producer, src.kind)
		if err != nil {
			return nil, err
		}
		refs = append(refs, id)
	}

	if s == task.StageSynthesis {
		switch tk.ReferenceVoice {
		case "":
		case ReferenceVoiceAuto:
			id, err := outputOf(ctx, q, shared, task.StageSeparation, task.KindVocalTrack)
			if err != nil {
				return nil, err
			}
			refs = append(refs, id)
		default:
			id, err := referenceVoice(ctx, q, tk.ID)
			if err != nil {
				return nil, err
			}
			refs = append(refs, id)
		}
	}
	return refs, nil
}

func outputOf(ctx context.Context, q store.Queries, b *task.Branch, producer task.Stage, kind task.ArtifactKind) (string, error) {
	run, err := q.SucceededRun(ctx, b.ID, producer)
	if err != nil {
		return "", err
	}
	if run == nil {
		return "", fmt.Errorf("no succeeded %s run for branch %s", producer, b.ID)
	}
	artifacts, err := q.ArtifactsByID(ctx, run.OutputRefs)
	if err != nil {
		return "", err
	}
	for _, id := range run.OutputRefs {
		if a, ok := artifacts[id]; ok && a.Kind == kind {
			return a.ID, nil
		}
	}
	return "", fmt.Errorf("%s run %s produced no %s", producer, run.ID, kind)
}

func referenceVoice(ctx context.Context, q store.Queries, taskID string) (string, error) {
	artifacts, err := q.ListArtifacts(ctx, taskID)
	if err != nil {
		return "", err
	}
	for i := len(artifacts) - 1; i >= 0; i-- {
		if artifacts[i].Kind == task.KindReferenceVoice {
			return artifacts[i].ID, nil
		}
	}
	return "", fmt.Errorf("task %s has no reference voice artifact", taskID)
}

// loadInputs resolves a run's input refs to files and checks each one is
// still present with its recorded size.
func (o *Orchestrator) loadInputs(ctx context.Context, run *task.StageRun) ([]stage.Input, error) {
	artifacts, err := o.store.ArtifactsByID(ctx, run.InputRefs)
	if err != nil {
		return nil, err
	}
	inputs := make([]stage.Input, 0, len(run.InputRefs))
	for _, id := range run.InputRefs {
		a, ok := artifacts[id]
		if !ok {
			return nil, services.Wrap(services.ErrInput, string(run.Stage), "resolve inputs",
				fmt.Sprintf("input artifact %s is missing", id), nil)
		}
		if err := o.artifacts.Verify(a, false); err != nil {
			return nil, services.Wrap(services.ErrInput, string(run.Stage), "resolve inputs", "", err)
		}
		inputs = append(inputs, stage.Input{
			ArtifactID: a.ID,
			Kind:       a.Kind,
			Language:   a.Language,
			Path:       o.artifacts.Abs(a.Path),
		})
	}
	return inputs, nil
}

// missingOutputs reports the expected kinds absent from outputs.
func missingOutputs(s task.Stage, outputs []stage.Output) []task.ArtifactKind {
	have := make(map[task.ArtifactKind]bool, len(outputs))
	for _, out := range outputs {
		have[out.Kind] = true
	}
	var missing []task.ArtifactKind
	for _, kind := range stageOutputs[s] {
		if !have[kind] {
			missing = append(missing, kind)
		}
	}
	return missing
}
