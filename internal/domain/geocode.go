package domain

import (
	"context"
	"log/slog"
)

// EnrichWithGeocoding fills in the location of an event whose providers gave
// no usable place text. Events with a real location, without coordinates, or
// with a nil geocoder are returned unchanged; geocoding failures are logged
// and leave the placeholder in place.
func EnrichWithGeocoding(ctx context.Context, event Event, geocoder Geocoder, logger *slog.Logger) Event {
	if geocoder == nil || event.Location != UnknownLocation {
		return event
	}
	if event.Latitude == 0 && event.Longitude == 0 {
		return event
	}

	result, err := geocoder.ReverseGeocode(ctx, event.Latitude, event.Longitude)
	if err != nil {
		logger.Warn("reverse geocoding failed",
			"event_id", event.ID,
			"source", event.Source,
			"lat", event.Latitude,
			"lon", event.Longitude,
			"error", err,
		)
		return event
	}
	if result.FormattedAddress == "" {
		return event
	}

	event.Location = NormalizeText(result.FormattedAddress)
	if event.Province == nil {
		event.Province = OptionalText(result.PlaceName)
	}
	return event
}
