package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-roadmap/internal/models"
)

func TestSelectionStateRoundTrip(t *testing.T) {
	state := models.RoadmapSelectionState{
		Status:            models.SelectionStatusSelected,
		SelectedRoadmapID: "r1",
		Suggestions:       NormalizeSuggestionsJSON([]byte(backendSuggestionsJSON)),
		FallbackUsed:      true,
		ViewPreference:    models.ViewSinglePath,
	}

	payload, err := EncodeSelectionState(state, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Contains(t, string(payload), `"version":1`)

	decoded, err := DecodeSelectionState(payload)
	require.NoError(t, err)
	require.Equal(t, state, decoded)
}

func TestDecodeSelectionStateMigratesLegacyPayload(t *testing.T) {
	legacy := `{"roadmaps":[{"id":"r9","title":"Legacy","courses":["a"]}],"selectedRoadmapId":"r9","view":"single"}`

	state, err := DecodeSelectionState([]byte(legacy))
	require.NoError(t, err)
	require.Equal(t, models.SelectionStatusSelected, state.Status)
	require.Equal(t, "r9", state.SelectedRoadmapID)
	require.Equal(t, models.ViewSinglePath, state.ViewPreference)
	require.Len(t, state.Suggestions, 1)
}

func TestDecodeSelectionStateRepairsInvariants(t *testing.T) {
	state := models.RoadmapSelectionState{
		Status:            models.SelectionStatusSelected,
		SelectedRoadmapID: "gone",
		Suggestions:       NormalizeSuggestionsJSON([]byte(backendSuggestionsJSON)),
	}
	payload, err := EncodeSelectionState(state, time.Now())
	require.NoError(t, err)

	decoded, err := DecodeSelectionState(payload)
	require.NoError(t, err)
	require.Equal(t, models.SelectionStatusGenerated, decoded.Status)
	require.Empty(t, decoded.SelectedRoadmapID)
	require.Equal(t, models.ViewMultiPath, decoded.ViewPreference)
}

func TestDecodeSelectionStateCorruptFallsBackToEmpty(t *testing.T) {
	state, err := DecodeSelectionState([]byte("\x00garbage"))
	require.Error(t, err)
	require.Equal(t, models.SelectionStatusNone, state.Status)
	require.Empty(t, state.Suggestions)
}

func TestComputeProgress(t *testing.T) {
	require.Equal(t, models.ProgressSummary{Source: models.ProgressSourceLocal}, ComputeProgress(nil))

	entries := []models.CourseProgressEntry{{Completed: true}, {}, {}, {}}
	require.Equal(t, models.ProgressSummary{TotalCourses: 4, CompletedCourses: 1, Percent: 25, Source: models.ProgressSourceLocal}, ComputeProgress(entries))

	thirds := []models.CourseProgressEntry{{Completed: true}, {Completed: true}, {}}
	require.Equal(t, 67, ComputeProgress(thirds).Percent)

	all := []models.CourseProgressEntry{{Completed: true}, {Completed: true}}
	require.Equal(t, 100, ComputeProgress(all).Percent)
}
