package pipeline

import (
	"skytracker/config"
)

// Config returns a copy of the live configuration.
func (p *Pipeline) Config() config.App {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// UpdateCapture patches the capture group. A changed url reconnects the
// source and drops the current display frame.
func (p *Pipeline) UpdateCapture(patch map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	next, err := config.Patch(p.cfg.Capture, patch)
	if err != nil {
		return p.rejected("capture", err)
	}
	urlChanged := next.URL != p.cfg.Capture.URL
	p.cfg.Capture = next
	p.source.SetConfig(next)
	if urlChanged {
		p.urlGen.Add(1)
		p.display.Clear()
	}
	p.log.Info().Interface("patch", patch).Msg("capture config updated")
	return nil
}

// SetURL switches the source to a new origin.
func (p *Pipeline) SetURL(url string) error {
	return p.UpdateCapture(map[string]any{"url": url})
}

// UpdateProcessing patches the processing group; the preprocessor is rebuilt
// before the next frame.
func (p *Pipeline) UpdateProcessing(patch map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	next, err := config.Patch(p.cfg.Processing, patch)
	if err != nil {
		return p.rejected("processing", err)
	}
	p.cfg.Processing = next
	p.rebuild.Or(rebuildPreprocessor)
	p.log.Info().Interface("patch", patch).Msg("processing config updated")
	return nil
}

// UpdateDetection patches the detection group. The detector, including its
// background model, is rebuilt before the next frame.
func (p *Pipeline) UpdateDetection(patch map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	next, err := config.Patch(p.cfg.Detection, patch)
	if err != nil {
		return p.rejected("detection", err)
	}
	p.cfg.Detection = next
	p.rebuild.Or(rebuildDetector)
	p.log.Info().Interface("patch", patch).Msg("detection config updated")
	return nil
}

// UpdateTracking patches the tracking group.
func (p *Pipeline) UpdateTracking(patch map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	next, err := config.Patch(p.cfg.Tracking, patch)
	if err != nil {
		return p.rejected("tracking", err)
	}
	p.cfg.Tracking = next
	p.tracker.SetConfig(next)
	p.log.Info().Interface("patch", patch).Msg("tracking config updated")
	return nil
}

// UpdateClassification patches the classification group.
func (p *Pipeline) UpdateClassification(patch map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	next, err := config.Patch(p.cfg.Classification, patch)
	if err != nil {
		return p.rejected("classification", err)
	}
	p.cfg.Classification = next
	p.classifier.SetConfig(next)
	p.log.Info().Interface("patch", patch).Msg("classification config updated")
	return nil
}

// UpdateRecording patches the recording group. db_path only takes effect on
// the next start.
func (p *Pipeline) UpdateRecording(patch map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	next, err := config.Patch(p.cfg.Recording, patch)
	if err != nil {
		return p.rejected("recording", err)
	}
	p.cfg.Recording = next
	p.clips.SetConfig(next)
	p.log.Info().Interface("patch", patch).Msg("recording config updated")
	return nil
}

// UpdateSchedule patches the schedule group.
func (p *Pipeline) UpdateSchedule(patch map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	next, err := config.Patch(p.cfg.Schedule, patch)
	if err != nil {
		return p.rejected("schedule", err)
	}
	p.cfg.Schedule = next
	p.log.Info().Interface("patch", patch).Msg("schedule config updated")
	return nil
}

func (p *Pipeline) rejected(group string, err error) error {
	p.log.Warn().Err(err).Str("group", group).Msg("config update rejected")
	return err
}
