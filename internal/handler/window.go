package handler

import (
	"errors"
	"net/url"
	"path"
	"strings"
	"time"
)

// CompletedAtLayout matches IFTTT's "March 3, 2024 at 02:00PM".
const CompletedAtLayout = "January 2, 2006 at 3:04PM"

// WindowPadding is how far either side of the trip completion time
// transactions are searched.
const WindowPadding = time.Minute

// Window is a closed time interval.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow centres a window of ±WindowPadding on t.
func NewWindow(t time.Time) Window {
	return Window{Start: t.Add(-WindowPadding), End: t.Add(WindowPadding)}
}

// Contains reports whether t lies within the window, bounds included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// ParseCompletedAt parses a CompletedAt value in loc.
func ParseCompletedAt(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(CompletedAtLayout, strings.TrimSpace(value), loc)
}

var errNoExtension = errors.New("image URL has no file extension")

// ImageContentType derives "image/<ext>" from the extension of the URL path.
func ImageContentType(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}

	ext := strings.TrimPrefix(path.Ext(u.Path), ".")
	if ext == "" {
		return "", errNoExtension
	}

	return "image/" + ext, nil
}
