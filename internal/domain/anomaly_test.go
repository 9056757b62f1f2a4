package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAnomalous_Determinism(t *testing.T) {
	for m := 0.0; m <= 9.0; m += 0.25 {
		for d := 0.0; d <= 30.0; d += 0.5 {
			want := m > 5.0 && d < 10
			got := ScoreAnomaly(Event{Magnitude: m, Depth: d})
			assert.Equal(t, want, got.IsAnomaly, "m=%v d=%v", m, d)
			if !got.IsAnomaly {
				assert.Zero(t, got.AnomalyScore, "m=%v d=%v", m, d)
			}
		}
	}
}

func TestAnomalyScore(t *testing.T) {
	tests := []struct {
		name      string
		magnitude float64
		depth     float64
		anomaly   bool
		score     float64
	}{
		{"scenario record", 5.1, 8.2, true, 71.4},
		{"magnitude at threshold", 5.0, 2.0, false, 0},
		{"depth at threshold", 6.0, 10.0, false, 0},
		{"deep strong event", 7.8, 17.9, false, 0},
		{"strong shallow event", 7.8, 0, true, 89},
		{"negative depth is still shallow", 5.5, -1, true, 78},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.anomaly, IsAnomalous(tt.magnitude, tt.depth))
			assert.InDelta(t, tt.score, AnomalyScore(tt.magnitude, tt.depth), 1e-9)
		})
	}
}

func TestScoreAnomalies_ReturnsNewSlice(t *testing.T) {
	in := []Event{{ID: "a", Magnitude: 6, Depth: 1}, {ID: "b", Magnitude: 1, Depth: 1, IsAnomaly: true, AnomalyScore: 9}}
	out := ScoreAnomalies(in)

	assert.True(t, out[0].IsAnomaly)
	assert.False(t, out[1].IsAnomaly)
	assert.Zero(t, out[1].AnomalyScore)
	assert.False(t, in[0].IsAnomaly, "input must not change")
}

func TestEventPatch_Apply(t *testing.T) {
	base, err := Normalize(Event{ID: "k", Date: "2024-01-15", Time: "12:00:00", Magnitude: 4.0, Depth: 5, Source: SourceKandilli, Location: "X"})
	require.NoError(t, err)

	t.Run("magnitude change rescored", func(t *testing.T) {
		got, err := EventPatch{Magnitude: ptr(6.0)}.Apply(base)
		require.NoError(t, err)
		assert.True(t, got.IsAnomaly)
		assert.InDelta(t, 77.5, got.AnomalyScore, 1e-9)
		assert.Equal(t, base.Timestamp, got.Timestamp)
	})

	t.Run("time change recomputes timestamp", func(t *testing.T) {
		got, err := EventPatch{Time: ptr("13:00:00")}.Apply(base)
		require.NoError(t, err)
		assert.Equal(t, base.Timestamp+3600*1000, got.Timestamp)
	})

	t.Run("date is canonicalized", func(t *testing.T) {
		got, err := EventPatch{Date: ptr("2024.01.16")}.Apply(base)
		require.NoError(t, err)
		assert.Equal(t, "2024-01-16", got.Date)
		assert.Equal(t, base.Timestamp+24*3600*1000, got.Timestamp)
	})

	t.Run("unparseable date rejected", func(t *testing.T) {
		_, err := EventPatch{Date: ptr("2024-13-45")}.Apply(base)
		require.ErrorIs(t, err, ErrInvalidRecord)
		assert.Equal(t, "2024-01-15", base.Date)
	})

	t.Run("unknown source rejected", func(t *testing.T) {
		_, err := EventPatch{Source: ptr(Source("USGS"))}.Apply(base)
		require.ErrorIs(t, err, ErrInvalidRecord)
	})

	t.Run("text fields", func(t *testing.T) {
		got, err := EventPatch{Location: ptr("Y"), Province: ptr("P")}.Apply(base)
		require.NoError(t, err)
		assert.Equal(t, "Y", got.Location)
		assert.Equal(t, "P", *got.Province)
		assert.Nil(t, got.District)
		assert.Equal(t, "X", base.Location)
	})
}
