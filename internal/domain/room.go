package domain

// RoomSlug identifies a room. It partitions every membership query and
// the change feed.
type RoomSlug string

func ValidateSlug(slug RoomSlug) error {
	if len(slug) == 0 {
		return ErrSlugEmpty
	}
	if len(slug) > MaxSlugLen {
		return ErrSlugTooLong
	}
	return nil
}
