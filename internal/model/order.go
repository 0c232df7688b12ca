package model

import (
	"errors"
	"strings"
	"time"

	"scheduleguard/internal/schedule"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrStaleOrder means the order changed since the version the caller read.
	ErrStaleOrder = errors.New("order version is stale")
)

type Order struct {
	ID             string                   `json:"id"`
	Title          string                   `json:"title,omitempty"`
	IsPermanent    bool                     `json:"isPermanent"`
	WeeklySchedule *schedule.WeeklySchedule `json:"weeklySchedule,omitempty"`
	Version        int64                    `json:"version"`
	BannerImage    string                   `json:"bannerImage,omitempty"`
	Media          []MediaFile              `json:"media,omitempty"`
	UpdatedAt      time.Time                `json:"updatedAt"`
}

// MediaFile is an uploaded file attached to an order.
type MediaFile struct {
	URL        string    `json:"url"`
	FileName   string    `json:"fileName"`
	MimeType   string    `json:"mimeType,omitempty"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// IsImage reports whether the file can serve as a banner.
func (m MediaFile) IsImage() bool {
	if strings.HasPrefix(m.MimeType, "image/") {
		return true
	}
	name := strings.ToLower(m.FileName)
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".heic"} {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// LocalFile is a newly attached file that still has to be uploaded.
type LocalFile struct {
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType,omitempty"`
	Data     []byte `json:"data"`
}

// MediaIntent carries the media changes made alongside a schedule edit.
type MediaIntent struct {
	NewFiles       []LocalFile `json:"newFiles,omitempty"`
	SelectedBanner string      `json:"selectedBanner,omitempty"`
	// BannerHint is the file name of the banner chosen before upload.
	BannerHint string `json:"bannerHint,omitempty"`
}

// OrderPatch is the merge patch sent to the backend on persist.
type OrderPatch struct {
	WeeklySchedule  *schedule.WeeklySchedule `json:"weeklySchedule"`
	BannerImage     string                   `json:"bannerImage,omitempty"`
	ExpectedVersion int64                    `json:"expectedVersion,omitempty"`
}
