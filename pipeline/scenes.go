package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"

	"PromptToMovie-server/models"
	"PromptToMovie-server/poller"
	"PromptToMovie-server/providers"
)

const defaultSceneSeconds = 5

// sceneTask is the in-flight state of one scene's video job. It lives only until the
// asset URL is written onto the scene.
type sceneTask struct {
	Ordinal        int
	Prompt         string
	ReferenceImage string
	Duration       int
	AspectRatio    string
	JobID          string
	AssetURL       string
	FailureReason  string
}

// generateVideos fans the scenes out over a bounded worker pool. The first scene that
// fails cancels the others and fails the stage.
func (o *Orchestrator) generateVideos(ctx context.Context, r *run) error {
	total := len(r.scenes)
	if total == 0 {
		return wrap(ErrUnexpected, string(r.stage), "", fmt.Errorf("no scenes to generate"))
	}
	adapter, res, err := o.registry.Adapter(ctx, providers.CapabilityVideo)
	if err != nil {
		return wrap(ErrConfiguration, string(r.stage), string(providers.CapabilityVideo), err)
	}
	if err := o.ledger.UpdateSceneStats(ctx, r.movie.ID, total, 0); err != nil {
		return err
	}

	size := o.cfg.SceneConcurrency
	if size < 1 {
		size = 1
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return wrap(ErrUnexpected, string(r.stage), "create worker pool", err)
	}
	defer pool.Release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		firstErr  error
		completed int
	)
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	p := poller.New(adapter, r.log)

	for i := range r.scenes {
		scene := &r.scenes[i]
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					fail(wrap(ErrUnexpected, string(r.stage), fmt.Sprintf("scene %d", scene.Ordinal), fmt.Errorf("panic: %v", rec)))
				}
			}()
			if ctx.Err() != nil {
				return
			}
			if err := o.generateScene(ctx, r, p, res, scene); err != nil {
				fail(err)
				return
			}

			mu.Lock()
			completed++
			n := completed
			mu.Unlock()
			if ctx.Err() != nil {
				return
			}
			if err := o.ledger.UpdateSceneStats(ctx, r.movie.ID, total, n); err != nil {
				fail(err)
				return
			}
			if err := o.progress(ctx, r, n, total, fmt.Sprintf("%d/%d scenes generated", n, total)); err != nil {
				fail(err)
			}
		})
		if err != nil {
			wg.Done()
			fail(wrap(ErrUnexpected, string(r.stage), "schedule scene", err))
			break
		}
	}
	wg.Wait()
	return firstErr
}

func (o *Orchestrator) generateScene(ctx context.Context, r *run, p *poller.Poller, res providers.Resolution, scene *models.Scene) error {
	want := scene.Duration
	if want <= 0 {
		want = defaultSceneSeconds
	}
	task := sceneTask{
		Ordinal:        scene.Ordinal,
		Prompt:         scene.VisualPrompt,
		ReferenceImage: scene.ReferenceImage,
		Duration:       providers.SelectDuration(res.Model, want),
		AspectRatio:    providers.SelectAspectRatio(res.Model, r.movie.AspectRatio),
	}
	subject := fmt.Sprintf("scene %d", task.Ordinal)
	db := o.db.WithContext(ctx)
	if err := scene.Update(db, map[string]interface{}{"status": models.SceneStatusProcessing}); err != nil {
		return wrap(ErrUnexpected, string(r.stage), "update "+subject, err)
	}

	params := map[string]interface{}{
		"duration":     task.Duration,
		"aspect_ratio": task.AspectRatio,
		"scene":        task.Ordinal,
	}
	if task.ReferenceImage != "" {
		params["reference_image"] = task.ReferenceImage
	}
	if r.movie.Style != "" {
		params["style"] = r.movie.Style
	}
	jobID, result, err := p.Run(ctx, providers.Job{Kind: providers.KindSceneVideo, Prompt: task.Prompt, Params: params},
		o.cfg.VideoPollInterval, o.cfg.VideoMaxAttempts)
	task.JobID = jobID
	if err == nil && result.Outcome == poller.Failed {
		err = &ProviderError{ProviderID: res.ProviderID, Subject: subject, Message: result.Error}
	}
	if err != nil {
		task.FailureReason = err.Error()
		r.log.Warn().Int("scene", task.Ordinal).Str("job_id", task.JobID).Str("reason", task.FailureReason).Msg("scene failed")
		o.markSceneFailed(ctx, scene)
		return wrap(ErrProvider, string(r.stage), subject, err)
	}

	url, err := o.persistAsset(ctx, r, result.Asset, movieKey(r.movie.ID, "scenes", sceneFile(task.Ordinal, "video", extOf(result.Asset, ".mp4"))))
	if err != nil {
		o.markSceneFailed(ctx, scene)
		return err
	}
	task.AssetURL = url
	if err := scene.Update(db, map[string]interface{}{
		"video_url": task.AssetURL,
		"duration":  task.Duration,
		"status":    models.SceneStatusCompleted,
	}); err != nil {
		return wrap(ErrUnexpected, string(r.stage), "update "+subject, err)
	}
	scene.VideoURL = task.AssetURL
	scene.Duration = task.Duration
	scene.Status = models.SceneStatusCompleted
	r.log.Info().Int("scene", task.Ordinal).Str("job_id", task.JobID).Int("duration", task.Duration).Msg("scene generated")
	return nil
}

func (o *Orchestrator) markSceneFailed(ctx context.Context, scene *models.Scene) {
	db := o.db.WithContext(context.WithoutCancel(ctx))
	if err := scene.Update(db, map[string]interface{}{"status": models.SceneStatusFailed}); err != nil {
		o.log.Error().Err(err).Str("scene_id", scene.ID).Msg("failed to mark scene failed")
	}
	scene.Status = models.SceneStatusFailed
}
