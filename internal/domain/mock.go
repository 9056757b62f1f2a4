package domain

// MockEvents returns the fixed dataset served in degraded mode when every
// provider fails and mock fallback is enabled. Timestamps and anomaly fields
// are derived the same way as for live data.
func MockEvents() []Event {
	ankara, cankaya := "Ankara", "Çankaya"
	izmir, bornova := "İzmir", "Bornova"
	events := []Event{
		{
			ID:        "mock_1",
			Date:      "2024-01-15",
			Time:      "14:30:25",
			Latitude:  39.9334,
			Longitude: 32.8597,
			Magnitude: 4.2,
			Depth:     12.5,
			Location:  "Ankara, Çankaya",
			Province:  &ankara,
			District:  &cankaya,
			Source:    SourceKandilli,
		},
		{
			ID:        "mock_2",
			Date:      "2024-01-15",
			Time:      "12:15:10",
			Latitude:  38.4192,
			Longitude: 27.1287,
			Magnitude: 5.1,
			Depth:     8.2,
			Location:  "İzmir, Bornova",
			Province:  &izmir,
			District:  &bornova,
			Source:    SourceKandilli,
		},
	}
	for i := range events {
		// Fixed, valid data.
		events[i], _ = Normalize(events[i])
	}
	return events
}
