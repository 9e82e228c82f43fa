package domain

import (
	"path"
	"strings"
)

// PriorityBand is the default priority of a job type. Lower runs sooner.
// Video targets use the Video band where it differs, so heavy transcoding and
// ML work queues behind cheaper image work.
type PriorityBand struct {
	Default int
	Video   int
}

// DefaultPriorityBands mirrors the production tuning of the media pipeline.
func DefaultPriorityBands() map[JobType]PriorityBand {
	return map[JobType]PriorityBand{
		JobTypeRemove:           {Default: 0, Video: 0},
		JobTypeScan:             {Default: 10, Video: 10},
		JobTypeCleanDB:          {Default: 20, Video: 20},
		JobTypeImportAlbumItem:  {Default: 25, Video: 25},
		JobTypeClusterFaces:     {Default: 30, Video: 30},
		JobTypeClusterPhotos:    {Default: 35, Video: 35},
		JobTypeIngestMetadata:   {Default: 50, Video: 50},
		JobTypeIngestThumbnails: {Default: 60, Video: 65},
		JobTypeIngestAnalysis:   {Default: 90, Video: 95},
	}
}

// DefaultVideoExtensions lists the extensions treated as video targets.
func DefaultVideoExtensions() []string {
	return []string{".mp4", ".mov", ".m4v", ".mkv", ".webm", ".avi", ".mts", ".m2ts", ".3gp", ".wmv"}
}

// PriorityPolicy resolves the default priority for a new job.
type PriorityPolicy struct {
	Bands           map[JobType]PriorityBand
	VideoExtensions []string
}

func NewPriorityPolicy(bands map[JobType]PriorityBand, videoExtensions []string) PriorityPolicy {
	merged := DefaultPriorityBands()
	for t, band := range bands {
		merged[t] = band
	}
	exts := make([]string, 0, len(videoExtensions))
	for _, ext := range videoExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	if len(exts) == 0 {
		exts = DefaultVideoExtensions()
	}
	return PriorityPolicy{Bands: merged, VideoExtensions: exts}
}

// IsVideo reports whether targetKey names a video file by extension.
func (p PriorityPolicy) IsVideo(targetKey string) bool {
	if targetKey == "" {
		return false
	}
	ext := strings.ToLower(path.Ext(targetKey))
	for _, v := range p.VideoExtensions {
		if ext == v {
			return true
		}
	}
	return false
}

// Priority returns the band value for t and targetKey.
func (p PriorityPolicy) Priority(t JobType, targetKey string) int {
	band, ok := p.Bands[t]
	if !ok {
		return 100
	}
	if p.IsVideo(targetKey) {
		return band.Video
	}
	return band.Default
}
