// Package template folds a report template stream into its published
// versions.
//
// A version is identified by its publication time in Unix milliseconds.
// Publications inside the same millisecond as the previous version are bumped
// one millisecond past it, so version ids strictly increase per template.
package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/louisbranch/brigade/internal/services/ledger/domain/event"
)

// Version is one published revision of a template.
type Version struct {
	VersionID   string
	PublishedAt time.Time
	PublishedBy string
	Fields      []string
	Body        string
}

// Template is the folded state of one template stream.
type Template struct {
	RestaurantID string
	Name         string
	Versions     []Version
	// StreamVersion is the highest ledger version folded, used as the
	// expected version of the next publication.
	StreamVersion uint64
}

// Latest returns the newest version.
func (t Template) Latest() (Version, bool) {
	if len(t.Versions) == 0 {
		return Version{}, false
	}
	return t.Versions[len(t.Versions)-1], true
}

// LastRev is the publication time of the newest version, or the zero time.
func (t Template) LastRev() time.Time {
	latest, ok := t.Latest()
	if !ok {
		return time.Time{}
	}
	return latest.PublishedAt
}

// NextRev returns now truncated to milliseconds, or one millisecond after
// last when now is not after it.
func NextRev(last, now time.Time) time.Time {
	now = now.UTC().Truncate(time.Millisecond)
	if now.After(last) {
		return now
	}
	return last.Add(time.Millisecond)
}

// VersionID formats a revision time as a version identifier.
func VersionID(rev time.Time) string {
	return strconv.FormatInt(rev.UnixMilli(), 10)
}

// Fold applies one template event.
func Fold(state Template, evt event.Event) (Template, error) {
	if evt.Version > state.StreamVersion {
		state.StreamVersion = evt.Version
	}
	if evt.Type != event.TypeTemplateVersionPublished {
		return state, nil
	}
	var payload event.TemplateVersionPublishedPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		return state, fmt.Errorf("decode template version: %w", err)
	}
	if payload.RestaurantID != "" {
		state.RestaurantID = payload.RestaurantID
	} else if state.RestaurantID == "" {
		state.RestaurantID = evt.Meta.RestaurantID
	}
	state.Name = payload.Name
	state.Versions = append(state.Versions, Version{
		VersionID:   payload.VersionID,
		PublishedAt: evt.OccurredAt,
		PublishedBy: evt.Meta.ActorID,
		Fields:      append([]string(nil), payload.Fields...),
		Body:        payload.Body,
	})
	return state, nil
}
