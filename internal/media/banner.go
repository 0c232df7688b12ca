// Package media picks the banner image of an order after new files are uploaded.
package media

import (
	"path"
	"strings"

	"scheduleguard/internal/model"
)

// SelectBanner returns the URL of the banner image for an order.
//
// An explicit selection wins when it is one of the files. Otherwise the first
// image whose file name matches hint is used, and failing that the most
// recently uploaded image. An empty string means there is no image at all.
func SelectBanner(files []model.MediaFile, selected, hint string) string {
	if selected != "" {
		for _, f := range files {
			if f.URL == selected {
				return f.URL
			}
		}
	}

	if hint != "" {
		want := normalize(hint)
		for _, f := range files {
			if f.IsImage() && (normalize(f.FileName) == want || normalize(f.URL) == want) {
				return f.URL
			}
		}
	}

	var latest *model.MediaFile
	for i := range files {
		f := &files[i]
		if !f.IsImage() {
			continue
		}
		if latest == nil || f.UploadedAt.After(latest.UploadedAt) {
			latest = f
		}
	}
	if latest == nil {
		return ""
	}
	return latest.URL
}

func normalize(name string) string {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(path.Base(name))
}
