// Package hydrate produces a validated initial state from a previously
// persisted snapshot and the current configuration defaults. It is pure so
// rehydration stays unit-testable.
package hydrate

// Snapshot is the serialized slice of state that survives restarts. All
// fields are advisory: anything failing validation is overwritten by the
// defaults.
type Snapshot struct {
	Language             string `json:"language"`
	ActiveConversationID string `json:"active_conversation_id"`
}

// Defaults are the runtime configuration values merged into the snapshot.
type Defaults struct {
	Language  string
	Languages []string
}

// State is the validated initial state.
type State struct {
	Language             string
	ActiveConversationID string
}

// Hydrate merges snap into the defaults. A nil snapshot yields the defaults;
// an unknown language code falls back to the default language.
func Hydrate(snap *Snapshot, def Defaults) State {
	st := State{Language: def.Language}
	if snap == nil {
		return st
	}
	if supported(snap.Language, def.Languages) {
		st.Language = snap.Language
	}
	st.ActiveConversationID = snap.ActiveConversationID
	return st
}

func supported(lang string, languages []string) bool {
	if lang == "" {
		return false
	}
	for _, l := range languages {
		if l == lang {
			return true
		}
	}
	return false
}
