package editor

import "postbot/internal/kit"

type PlanKind int

const (
	PlanEmpty PlanKind = iota
	PlanText
	PlanSingle
	PlanAlbum
)

// Plan is a transport-ready rendering of a draft. It is produced by
// Resolve and consumed by the publisher; an empty plan means "nothing
// to publish" and must never reach the transport.
type Plan struct {
	Kind PlanKind

	// PlanText
	Text string

	// PlanSingle
	Media   kit.MediaRef
	Caption string

	// PlanAlbum; caption only on the first item.
	Album []kit.AlbumItem
}

// Resolve turns a draft into a publish plan. Pure; never fails.
//
// Two or more photo/video entries become an album in arrival order with
// the draft text as the lead item's caption. Otherwise a single media
// entry (the most recently added one, any kind) is sent with the text
// as caption, then bare text, then the empty plan.
func Resolve(d Draft) Plan {
	var album []kit.AlbumItem
	for _, m := range d.Media {
		if m.Kind.IsAlbumKind() {
			album = append(album, kit.AlbumItem{Media: m})
		}
	}
	if len(album) >= 2 {
		album[0].Caption = d.Text
		return Plan{Kind: PlanAlbum, Album: album}
	}

	if len(d.Media) > 0 {
		return Plan{
			Kind:    PlanSingle,
			Media:   d.Media[len(d.Media)-1],
			Caption: d.Text,
		}
	}

	if d.Text != "" {
		return Plan{Kind: PlanText, Text: d.Text}
	}

	return Plan{Kind: PlanEmpty}
}
