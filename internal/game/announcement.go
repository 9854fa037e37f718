package game

import (
	"cmp"
	"slices"

	"scoreboardAPI/internal/store"
)

type Announcement struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	TimestampS int64  `json:"timestamp_s"`
}

// Announcements keeps the published notices, newest first.
type Announcements struct {
	list []store.AnnouncementRecord
}

func newAnnouncements() *Announcements {
	return &Announcements{}
}

func (r *Announcements) Reload(recs []store.AnnouncementRecord) (Effect, error) {
	list := slices.Clone(recs)
	if _, err := indexBy(list, "announcement id", func(a store.AnnouncementRecord) (int64, bool) { return a.ID, true }); err != nil {
		return Effect{}, err
	}
	sortAnnouncements(list)
	r.list = list
	return Effect{}, nil
}

// ApplyUpdate never asks for a reset, announcements carry no score.
func (r *Announcements) ApplyUpdate(id int64, rec *store.AnnouncementRecord) (Effect, error) {
	list := without(r.list, func(a store.AnnouncementRecord) bool { return a.ID == id })
	if rec != nil {
		list = append(list, *rec)
	}
	sortAnnouncements(list)
	r.list = list
	return Effect{}, nil
}

func sortAnnouncements(list []store.AnnouncementRecord) {
	slices.SortStableFunc(list, func(a, b store.AnnouncementRecord) int {
		if a.TimestampS != b.TimestampS {
			return cmp.Compare(b.TimestampS, a.TimestampS)
		}
		return cmp.Compare(b.ID, a.ID)
	})
}

func (r *Announcements) List() []Announcement {
	out := make([]Announcement, 0, len(r.list))
	for _, a := range r.list {
		out = append(out, announcementOf(a))
	}
	return out
}

// Latest returns the newest announcement, nil when there is none.
func (r *Announcements) Latest() *Announcement {
	if len(r.list) == 0 {
		return nil
	}
	a := announcementOf(r.list[0])
	return &a
}

func announcementOf(rec store.AnnouncementRecord) Announcement {
	return Announcement{ID: rec.ID, Title: rec.Title, Content: rec.Content, TimestampS: rec.TimestampS}
}
