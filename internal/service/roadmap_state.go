package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/noah-isme/gema-roadmap/internal/models"
)

// roadmapStateVersion is bumped whenever the persisted shape changes.
const roadmapStateVersion = 1

type roadmapStateEnvelope struct {
	Version int             `json:"version"`
	SavedAt time.Time       `json:"savedAt"`
	State   json.RawMessage `json:"state"`
}

// EncodeSelectionState serializes state into a versioned envelope.
func EncodeSelectionState(state models.RoadmapSelectionState, savedAt time.Time) ([]byte, error) {
	body, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode roadmap state: %w", err)
	}
	return json.Marshal(roadmapStateEnvelope{Version: roadmapStateVersion, SavedAt: savedAt.UTC(), State: body})
}

// DecodeSelectionState reads a persisted payload. Current envelopes decode directly;
// anything older is salvaged through the suggestion normalizer.
func DecodeSelectionState(data []byte) (models.RoadmapSelectionState, error) {
	var env roadmapStateEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		legacy, ok := decodeLegacyState(data)
		if !ok {
			return emptySelectionState(), fmt.Errorf("decode roadmap state: %w", err)
		}
		return legacy, nil
	}

	if env.Version == roadmapStateVersion && len(env.State) > 0 {
		var state models.RoadmapSelectionState
		if err := json.Unmarshal(env.State, &state); err == nil {
			return reconcileStateInvariants(state), nil
		}
	}

	source := data
	if len(env.State) > 0 {
		source = env.State
	}
	legacy, _ := decodeLegacyState(source)
	return legacy, nil
}

type legacyStatePayload struct {
	SelectedRoadmapID json.RawMessage `json:"selectedRoadmapId"`
	FallbackUsed      bool            `json:"fallbackUsed"`
	ViewPreference    string          `json:"viewPreference"`
	View              string          `json:"view"`
}

func decodeLegacyState(data []byte) (models.RoadmapSelectionState, bool) {
	state := emptySelectionState()
	state.Suggestions = NormalizeSuggestionsJSON(data)

	var payload legacyStatePayload
	if err := json.Unmarshal(data, &payload); err == nil {
		state.SelectedRoadmapID = scalarToString(decodeBytes(payload.SelectedRoadmapID))
		state.FallbackUsed = payload.FallbackUsed
		view := payload.ViewPreference
		if view == "" {
			view = payload.View
		}
		state.ViewPreference = parseViewPreference(view)
	}
	if state.SelectedRoadmapID != "" {
		state.Status = models.SelectionStatusSelected
	}
	return reconcileStateInvariants(state), len(state.Suggestions) > 0
}

func emptySelectionState() models.RoadmapSelectionState {
	return models.RoadmapSelectionState{
		Status:         models.SelectionStatusNone,
		Suggestions:    []models.Roadmap{},
		ViewPreference: models.ViewMultiPath,
	}
}

// reconcileStateInvariants keeps status, selection and suggestions consistent.
func reconcileStateInvariants(state models.RoadmapSelectionState) models.RoadmapSelectionState {
	if state.Suggestions == nil {
		state.Suggestions = []models.Roadmap{}
	}
	if state.ViewPreference != models.ViewSinglePath {
		state.ViewPreference = models.ViewMultiPath
	}
	if len(state.Suggestions) == 0 {
		state.Status = models.SelectionStatusNone
		state.SelectedRoadmapID = ""
		return state
	}
	if state.SelectedRoadmapID != "" {
		state.Status = models.SelectionStatusSelected
		if _, ok := state.SelectedRoadmap(); ok {
			return state
		}
	}
	state.Status = models.SelectionStatusGenerated
	state.SelectedRoadmapID = ""
	return state
}

func parseViewPreference(value string) models.ViewPreference {
	switch models.ViewPreference(value) {
	case models.ViewSinglePath:
		return models.ViewSinglePath
	default:
		return models.ViewMultiPath
	}
}
