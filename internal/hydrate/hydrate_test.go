package hydrate

import "testing"

func TestHydrateNilSnapshotYieldsDefaults(t *testing.T) {
	st := Hydrate(nil, Defaults{Language: "en", Languages: []string{"en", "de"}})
	if st.Language != "en" {
		t.Fatalf("expected default language en, got %q", st.Language)
	}
	if st.ActiveConversationID != "" {
		t.Fatalf("expected no active conversation, got %q", st.ActiveConversationID)
	}
}

func TestHydrateKeepsSupportedLanguage(t *testing.T) {
	snap := &Snapshot{Language: "de", ActiveConversationID: "c1"}
	st := Hydrate(snap, Defaults{Language: "en", Languages: []string{"en", "de", "fr"}})
	if st.Language != "de" {
		t.Fatalf("expected de, got %q", st.Language)
	}
	if st.ActiveConversationID != "c1" {
		t.Fatalf("expected c1, got %q", st.ActiveConversationID)
	}
}

func TestHydrateRejectsUnknownLanguage(t *testing.T) {
	snap := &Snapshot{Language: "tlh", ActiveConversationID: "c1"}
	st := Hydrate(snap, Defaults{Language: "en", Languages: []string{"en", "de"}})
	if st.Language != "en" {
		t.Fatalf("expected fallback to en, got %q", st.Language)
	}
	if st.ActiveConversationID != "c1" {
		t.Fatalf("active conversation should survive language fallback, got %q", st.ActiveConversationID)
	}
}

func TestHydrateEmptyLanguageFallsBack(t *testing.T) {
	st := Hydrate(&Snapshot{}, Defaults{Language: "en", Languages: []string{"en"}})
	if st.Language != "en" {
		t.Fatalf("expected en, got %q", st.Language)
	}
}
