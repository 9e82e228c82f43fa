package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ImportAlbumItemPayload parameterises the federated import of one remote
// media item into a local album.
type ImportAlbumItemPayload struct {
	RemoteMediaItemID   string `json:"remote_media_item_id"`
	Token               string `json:"token"`
	LocalAlbumID        string `json:"local_album_id"`
	RemoteOwnerIdentity string `json:"remote_owner_identity"`
	RemoteServerURL     string `json:"remote_server_url"`
}

func (p ImportAlbumItemPayload) validate() error {
	missing := []string{}
	if strings.TrimSpace(p.RemoteMediaItemID) == "" {
		missing = append(missing, "remote_media_item_id")
	}
	if strings.TrimSpace(p.Token) == "" {
		missing = append(missing, "token")
	}
	if strings.TrimSpace(p.LocalAlbumID) == "" {
		missing = append(missing, "local_album_id")
	}
	if strings.TrimSpace(p.RemoteServerURL) == "" {
		missing = append(missing, "remote_server_url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// ScanPayload optionally narrows a scan to a subtree of the media folder.
type ScanPayload struct {
	Subdirectory string `json:"subdirectory,omitempty"`
}

// ClusterPayload optionally limits clustering to one owner.
type ClusterPayload struct {
	UserID string `json:"user_id,omitempty"`
}

// DecodePayload strictly decodes a job payload into T.
func DecodePayload[T any](job *Job) (T, error) {
	var out T
	if job == nil || len(job.Payload) == 0 {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(job.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("%w: decode %s payload: %v", ErrInvalidJob, job.Type, err)
	}
	return out, nil
}

// ValidatePayload checks the payload of job against the schema of its type.
// Types without a schema accept any payload. It runs at the handler boundary,
// never inside the scheduler.
func ValidatePayload(job *Job) error {
	switch job.Type {
	case JobTypeImportAlbumItem:
		p, err := DecodePayload[ImportAlbumItemPayload](job)
		if err != nil {
			return err
		}
		if err := p.validate(); err != nil {
			return fmt.Errorf("%w: %s payload: %v", ErrInvalidJob, job.Type, err)
		}
	case JobTypeScan:
		_, err := DecodePayload[ScanPayload](job)
		return err
	case JobTypeClusterFaces, JobTypeClusterPhotos:
		_, err := DecodePayload[ClusterPayload](job)
		return err
	}
	return nil
}
