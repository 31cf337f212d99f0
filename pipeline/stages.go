package pipeline

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/google/uuid"

	"PromptToMovie-server/config"
	"PromptToMovie-server/models"
	"PromptToMovie-server/providers"
)

func (o *Orchestrator) recordValidation(ctx context.Context, r *run) error {
	for _, w := range r.report.Warnings {
		if err := o.ledger.RecordWarning(ctx, r.movie.ID, r.stage, w); err != nil {
			return err
		}
	}
	names := make([]string, 0, len(r.report.Configured))
	for _, c := range r.report.Configured {
		name := string(c)
		if r.report.IsSimulated(c) {
			name += " (simulated)"
		}
		names = append(names, name)
	}
	return o.ledger.UpdateStageProgress(ctx, r.movie.ID, r.stage, 100, "providers ready: "+strings.Join(names, ", "))
}

func (o *Orchestrator) researchLocations(ctx context.Context, r *run) error {
	res, err := o.await(ctx, r, providers.CapabilityScript, providers.Job{
		Kind:   providers.KindResearch,
		Prompt: r.movie.Prompt,
		Params: map[string]interface{}{"style": r.movie.Style},
	}, "location research")
	if err != nil {
		return err
	}
	data, err := o.documentBytes(ctx, res)
	if err != nil {
		return wrap(ErrProvider, string(r.stage), "location research", err)
	}
	doc, err := providers.ParseResearch(data)
	if err != nil {
		return wrap(ErrProvider, string(r.stage), "location research", err)
	}

	locations := make([]models.Location, 0, len(doc.Locations))
	for _, l := range doc.Locations {
		locations = append(locations, models.Location{
			ID:          uuid.NewString(),
			MovieID:     r.movie.ID,
			Name:        l.Name,
			Description: l.Description,
		})
	}
	if err := models.ReplaceLocations(o.db.WithContext(ctx), r.movie.ID, locations); err != nil {
		return wrap(ErrUnexpected, string(r.stage), "save locations", err)
	}
	r.locations = locations
	return o.ledger.UpdateStageProgress(ctx, r.movie.ID, r.stage, 100, fmt.Sprintf("%d locations found", len(locations)))
}

func (o *Orchestrator) generateScreenplay(ctx context.Context, r *run) error {
	want := r.movie.SceneCount
	if want <= 0 {
		want = o.cfg.DefaultSceneCount
	}
	locationNames := make([]string, 0, len(r.locations))
	for _, l := range r.locations {
		locationNames = append(locationNames, l.Name)
	}
	res, err := o.await(ctx, r, providers.CapabilityScript, providers.Job{
		Kind:   providers.KindScreenplay,
		Prompt: r.movie.Prompt,
		Params: map[string]interface{}{
			"title":         r.movie.Title,
			"style":         r.movie.Style,
			"scene_count":   want,
			"with_dialogue": r.movie.WithDialogue,
			"aspect_ratio":  r.movie.AspectRatio,
			"locations":     locationNames,
		},
	}, "screenplay")
	if err != nil {
		return err
	}
	data, err := o.documentBytes(ctx, res)
	if err != nil {
		return wrap(ErrProvider, string(r.stage), "screenplay", err)
	}
	sp, err := providers.ParseScreenplay(data)
	if err != nil {
		return wrap(ErrProvider, string(r.stage), "screenplay", err)
	}
	if len(sp.Scenes) > want {
		sp.Scenes = sp.Scenes[:want]
	}

	characters := make([]models.Character, 0, len(sp.Characters))
	byName := make(map[string]string, len(sp.Characters))
	for _, c := range sp.Characters {
		id := uuid.NewString()
		byName[strings.ToLower(c.Name)] = id
		characters = append(characters, models.Character{
			ID:          id,
			MovieID:     r.movie.ID,
			Name:        c.Name,
			Description: c.Description,
		})
	}
	scenes := make([]models.Scene, 0, len(sp.Scenes))
	for i, s := range sp.Scenes {
		scene := models.Scene{
			ID:           uuid.NewString(),
			MovieID:      r.movie.ID,
			Ordinal:      i + 1,
			Title:        s.Title,
			Description:  s.Description,
			VisualPrompt: s.VisualPrompt,
			Speaker:      s.Speaker,
			CharacterID:  byName[strings.ToLower(s.Speaker)],
			Location:     s.Location,
			Duration:     int(s.Duration + 0.5),
			Status:       models.SceneStatusPending,
		}
		if r.movie.WithDialogue {
			scene.Dialogue = s.Dialogue
		}
		scenes = append(scenes, scene)
	}
	if err := models.ReplaceScreenplay(o.db.WithContext(ctx), r.movie.ID, characters, scenes); err != nil {
		return wrap(ErrUnexpected, string(r.stage), "save screenplay", err)
	}
	r.characters = characters
	r.scenes = scenes

	updates := map[string]interface{}{"logline": sp.Logline}
	if r.movie.Title == "" && sp.Title != "" {
		updates["title"] = sp.Title
		r.movie.Title = sp.Title
	}
	if err := o.updateMovie(ctx, r, updates); err != nil {
		return err
	}
	r.movie.Logline = sp.Logline
	if err := o.ledger.UpdateSceneStats(ctx, r.movie.ID, len(scenes), 0); err != nil {
		return err
	}
	return o.ledger.UpdateStageProgress(ctx, r.movie.ID, r.stage, 100,
		fmt.Sprintf("%d scenes, %d characters", len(scenes), len(characters)))
}

// assignCharacters draws a reference portrait per character and hands it to the scenes
// the character speaks in. Without an image provider characters stay without portraits.
func (o *Orchestrator) assignCharacters(ctx context.Context, r *run) error {
	if !r.report.Has(providers.CapabilityImage) {
		return o.ledger.UpdateStageProgress(ctx, r.movie.ID, r.stage, 100, "no image provider, characters kept without portraits")
	}
	db := o.db.WithContext(ctx)
	portraits := make(map[string]string, len(r.characters))
	for i := range r.characters {
		c := &r.characters[i]
		res, err := o.await(ctx, r, providers.CapabilityImage, providers.Job{
			Kind:   providers.KindPortrait,
			Prompt: c.Description,
			Params: map[string]interface{}{"name": c.Name, "style": r.movie.Style},
		}, "portrait of "+c.Name)
		if err != nil {
			return err
		}
		url, err := o.persistAsset(ctx, r, res.Asset, movieKey(r.movie.ID, "characters", c.ID+extOf(res.Asset, ".png")))
		if err != nil {
			return err
		}
		if err := db.Model(c).Update("image_url", url).Error; err != nil {
			return wrap(ErrUnexpected, string(r.stage), "save portrait", err)
		}
		c.ImageURL = url
		portraits[c.ID] = url
		if err := o.progress(ctx, r, i+1, len(r.characters), fmt.Sprintf("%d/%d portraits", i+1, len(r.characters))); err != nil {
			return err
		}
	}
	for i := range r.scenes {
		s := &r.scenes[i]
		url := portraits[s.CharacterID]
		if url == "" {
			continue
		}
		if err := s.Update(db, map[string]interface{}{"reference_image": url}); err != nil {
			return wrap(ErrUnexpected, string(r.stage), "save reference image", err)
		}
		s.ReferenceImage = url
	}
	return nil
}

func (o *Orchestrator) generateAudio(ctx context.Context, r *run) error {
	scenes := r.dialogueScenes()
	if len(scenes) == 0 {
		return o.ledger.UpdateStageProgress(ctx, r.movie.ID, r.stage, 100, "no dialogue")
	}
	db := o.db.WithContext(ctx)
	for i, s := range scenes {
		subject := fmt.Sprintf("scene %d speech", s.Ordinal)
		res, err := o.await(ctx, r, providers.CapabilityVoice, providers.Job{
			Kind:   providers.KindSpeech,
			Prompt: s.Dialogue,
			Params: map[string]interface{}{"speaker": s.Speaker, "scene": s.Ordinal},
		}, subject)
		if err != nil {
			return err
		}
		url, err := o.persistAsset(ctx, r, res.Asset, movieKey(r.movie.ID, "scenes", sceneFile(s.Ordinal, "speech", extOf(res.Asset, ".mp3"))))
		if err != nil {
			return err
		}
		if err := s.Update(db, map[string]interface{}{"audio_url": url}); err != nil {
			return wrap(ErrUnexpected, string(r.stage), "save "+subject, err)
		}
		s.AudioURL = url
		if err := o.progress(ctx, r, i+1, len(scenes), fmt.Sprintf("%d/%d voice lines", i+1, len(scenes))); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) applyLipSync(ctx context.Context, r *run) error {
	var scenes []*models.Scene
	for _, s := range r.dialogueScenes() {
		if s.AudioURL != "" && s.VideoURL != "" {
			scenes = append(scenes, s)
		}
	}
	if len(scenes) == 0 {
		return o.ledger.UpdateStageProgress(ctx, r.movie.ID, r.stage, 100, "no dialogue")
	}
	db := o.db.WithContext(ctx)
	for i, s := range scenes {
		subject := fmt.Sprintf("scene %d lip sync", s.Ordinal)
		res, err := o.await(ctx, r, providers.CapabilityLipSync, providers.Job{
			Kind: providers.KindLipSync,
			Params: map[string]interface{}{
				"video_url": s.VideoURL,
				"audio_url": s.AudioURL,
				"scene":     s.Ordinal,
			},
		}, subject)
		if err != nil {
			return err
		}
		url, err := o.persistAsset(ctx, r, res.Asset, movieKey(r.movie.ID, "scenes", sceneFile(s.Ordinal, "lipsync", extOf(res.Asset, ".mp4"))))
		if err != nil {
			return err
		}
		if err := s.Update(db, map[string]interface{}{"lip_sync_url": url}); err != nil {
			return wrap(ErrUnexpected, string(r.stage), "save "+subject, err)
		}
		s.LipSyncURL = url
		if err := o.progress(ctx, r, i+1, len(scenes), fmt.Sprintf("%d/%d scenes synced", i+1, len(scenes))); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) generateMusic(ctx context.Context, r *run) error {
	if !r.movie.WithMusic {
		return o.ledger.UpdateStageProgress(ctx, r.movie.ID, r.stage, 100, "no music requested")
	}
	total := 0
	for _, s := range r.scenes {
		total += s.Duration
	}
	res, err := o.await(ctx, r, providers.CapabilityMusic, providers.Job{
		Kind:   providers.KindMusic,
		Prompt: strings.TrimSpace(r.movie.Style + " score for: " + r.movie.Logline),
		Params: map[string]interface{}{"duration": total},
	}, "music")
	if err != nil {
		return err
	}
	url, err := o.persistAsset(ctx, r, res.Asset, movieKey(r.movie.ID, "music"+extOf(res.Asset, ".mp3")))
	if err != nil {
		return err
	}
	if err := o.updateMovie(ctx, r, map[string]interface{}{"music_url": url}); err != nil {
		return err
	}
	r.movie.MusicURL = url
	return nil
}

func (o *Orchestrator) assembleMovie(ctx context.Context, r *run) error {
	in := AssemblyInput{
		MovieID:   r.movie.ID,
		MusicURL:  r.movie.MusicURL,
		Qualities: o.cfg.Qualities,
	}
	simulated := isSimulatedStorage(r.storage) || providers.IsSimulated(in.MusicURL)
	for _, s := range r.scenes {
		if s.VideoURL == "" {
			return wrap(ErrAssembly, string(r.stage), "", fmt.Errorf("scene %d has no video", s.Ordinal))
		}
		clip := Clip{Ordinal: s.Ordinal, VideoURL: s.VideoURL, Duration: float64(s.Duration)}
		if s.LipSyncURL != "" {
			clip.VideoURL = s.LipSyncURL
		} else {
			clip.AudioURL = s.AudioURL
		}
		if providers.IsSimulated(clip.VideoURL) || providers.IsSimulated(clip.AudioURL) {
			simulated = true
		}
		in.Clips = append(in.Clips, clip)
	}
	sort.Slice(in.Clips, func(i, j int) bool { return in.Clips[i].Ordinal < in.Clips[j].Ordinal })

	assembler := o.assembler
	if simulated {
		assembler = SimulatedAssembler{}
	}
	out, err := assembler.Assemble(ctx, in, r.storage)
	if err != nil {
		return wrap(ErrAssembly, string(r.stage), "", err)
	}
	r.renditions = out.Renditions
	r.duration = out.Duration
	return o.updateMovie(ctx, r, map[string]interface{}{
		"renditions": models.Renditions(out.Renditions),
		"duration":   int(out.Duration + 0.5),
	})
}

// generateCover asks the image provider for a cover, or takes a frame of the movie when
// there is none.
func (o *Orchestrator) generateCover(ctx context.Context, r *run) error {
	var cover string
	if r.report.Has(providers.CapabilityImage) {
		res, err := o.await(ctx, r, providers.CapabilityImage, providers.Job{
			Kind:   providers.KindCover,
			Prompt: strings.TrimSpace(r.movie.Title + ". " + r.movie.Logline),
			Params: map[string]interface{}{"style": r.movie.Style, "aspect_ratio": r.movie.AspectRatio},
		}, "cover")
		if err != nil {
			return err
		}
		if cover, err = o.persistAsset(ctx, r, res.Asset, movieKey(r.movie.ID, "cover"+extOf(res.Asset, ".png"))); err != nil {
			return err
		}
	} else {
		_, source := bestRendition(r.renditions)
		if source == "" {
			return wrap(ErrAssembly, string(r.stage), "", fmt.Errorf("no rendition to take a cover frame from"))
		}
		assembler := o.assembler
		if providers.IsSimulated(source) {
			assembler = SimulatedAssembler{}
		}
		var err error
		if cover, err = assembler.ExtractFrame(ctx, source, movieKey(r.movie.ID, "cover.jpg"), r.storage); err != nil {
			return wrap(ErrAssembly, string(r.stage), "cover frame", err)
		}
	}
	if err := o.updateMovie(ctx, r, map[string]interface{}{"cover_image": cover}); err != nil {
		return err
	}
	r.movie.CoverImage = cover
	return nil
}

func (o *Orchestrator) finalize(ctx context.Context, r *run) error {
	quality, url := bestRendition(r.renditions)
	if url == "" {
		return wrap(ErrAssembly, string(r.stage), "", fmt.Errorf("no rendition produced"))
	}
	if err := o.updateMovie(ctx, r, map[string]interface{}{"video_url": url}); err != nil {
		return err
	}
	return o.ledger.UpdateStageProgress(ctx, r.movie.ID, r.stage, 100, fmt.Sprintf("published %s, %.0fs", quality, r.duration))
}

func (r *run) dialogueScenes() []*models.Scene {
	if !r.movie.WithDialogue {
		return nil
	}
	var out []*models.Scene
	for i := range r.scenes {
		if r.scenes[i].HasDialogue() {
			out = append(out, &r.scenes[i])
		}
	}
	return out
}

// bestRendition returns the highest quality tier produced.
func bestRendition(renditions models.Renditions) (string, string) {
	best, height := "", -1
	for q := range renditions {
		if h := config.QualityHeights[q]; h > height || (h == height && q < best) {
			best, height = q, h
		}
	}
	return best, renditions[best]
}

func isSimulatedStorage(s Storage) bool {
	_, ok := s.(SimulatedStorage)
	return ok
}

func sceneFile(ordinal int, kind, ext string) string {
	return fmt.Sprintf("%03d-%s%s", ordinal, kind, ext)
}

// extOf returns the file extension of an asset URL, or def when it has none.
func extOf(url, def string) string {
	u := url
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	ext := path.Ext(u)
	if ext == "" || len(ext) > 5 || strings.Contains(ext, "/") {
		return def
	}
	return strings.ToLower(ext)
}
