package metadata

import (
	"maps"

	"github.com/ThreeDotsLabs/watermill/message"
)

// FromWatermill copies the metadata of a Watermill message.
func FromWatermill(md message.Metadata) Metadata {
	if md == nil {
		return Metadata{}
	}
	return Metadata(maps.Clone(md))
}

// ToWatermill copies metadata into a map owned by a Watermill message.
func ToWatermill(md Metadata) message.Metadata {
	if md == nil {
		return message.Metadata{}
	}
	return message.Metadata(maps.Clone(md))
}
