// Package editor implements the channel post editor: per-user drafts,
// media aggregation, publish-plan resolution and the operator-facing
// command handlers.
package editor

import (
	"postbot/internal/kit"
)

// albumLimit is Telegram's media group size cap.
const albumLimit = 10

// Draft is one operator's in-progress post: free text plus an ordered
// media list. Photo/video entries form the album buffer; every other
// kind occupies a single replaceable slot.
type Draft struct {
	Text  string
	Media []kit.MediaRef
}

func (d *Draft) IsEmpty() bool {
	return d.Text == "" && len(d.Media) == 0
}

// Clone returns a deep copy. Scheduled jobs hold clones so later edits
// never leak into an already-scheduled payload.
func (d *Draft) Clone() Draft {
	cp := Draft{Text: d.Text}
	if len(d.Media) > 0 {
		cp.Media = append([]kit.MediaRef(nil), d.Media...)
	}
	return cp
}

// AddMedia folds one incoming media item into the draft.
//
// Photo/video accumulate for the album; when more than albumLimit of
// them are held, the oldest photo/video entries are evicted while
// entries of other kinds stay untouched. Every other kind keeps only
// its most recent item, again without disturbing the album buffer.
func (d *Draft) AddMedia(kind kit.MediaKind, fileID string) {
	d.Media = append(d.Media, kit.MediaRef{Kind: kind, FileID: fileID})

	if kind.IsAlbumKind() {
		d.trimAlbum()
		return
	}
	d.collapseSingletons()
}

func (d *Draft) trimAlbum() {
	over := d.albumCount() - albumLimit
	if over <= 0 {
		return
	}
	out := d.Media[:0]
	for _, m := range d.Media {
		if m.Kind.IsAlbumKind() && over > 0 {
			over--
			continue
		}
		out = append(out, m)
	}
	d.Media = out
}

func (d *Draft) collapseSingletons() {
	seen := map[kit.MediaKind]bool{}
	kept := make([]kit.MediaRef, 0, len(d.Media))
	for i := len(d.Media) - 1; i >= 0; i-- {
		m := d.Media[i]
		if m.Kind.IsAlbumKind() {
			kept = append(kept, m)
			continue
		}
		if seen[m.Kind] {
			continue
		}
		seen[m.Kind] = true
		kept = append(kept, m)
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	d.Media = kept
}

func (d *Draft) albumCount() int {
	n := 0
	for _, m := range d.Media {
		if m.Kind.IsAlbumKind() {
			n++
		}
	}
	return n
}
