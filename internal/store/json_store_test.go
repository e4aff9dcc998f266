package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"bianzi/internal/model"
	"bianzi/internal/store"
)

func TestJSONStorePersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	dataFile := filepath.Join(t.TempDir(), "state.json")
	st, err := store.NewJSONStore(dataFile)
	if err != nil {
		t.Fatalf("NewJSONStore() error = %v", err)
	}

	now := time.Now().UTC()
	bank := model.WordBank{
		Grade: 2,
		Items: []model.WordItem{
			{Word: "清", Pinyin: "qīng", Phrase: "清水", Distractors: []string{"请", "晴"}},
		},
		DistractorHints: map[string]string{"请": "请是请坐的请。"},
		Source:          model.BankSourceGenerated,
		GeneratedAt:     now,
	}
	if err := st.SaveBank(bank); err != nil {
		t.Fatalf("SaveBank() error = %v", err)
	}
	if err := st.SetPreference("voice", "Cherry"); err != nil {
		t.Fatalf("SetPreference() error = %v", err)
	}
	if err := st.PutImage(model.ImageBlob{Word: "清", MIME: "image/png", Data: []byte("png"), CreatedAt: now}); err != nil {
		t.Fatalf("PutImage() error = %v", err)
	}
	session := model.GameSession{
		ID:        "sess_json",
		Grade:     2,
		Screen:    model.ScreenPlaying,
		Options:   []string{"清", "请", "晴"},
		Tried:     []string{"请"},
		Stars:     2,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := st.SaveSession(session); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	reopened, err := store.NewJSONStore(dataFile)
	if err != nil {
		t.Fatalf("NewJSONStore() reopen error = %v", err)
	}

	gotBank, ok, err := reopened.GetBank(2)
	if err != nil || !ok {
		t.Fatalf("GetBank() err=%v ok=%v", err, ok)
	}
	if len(gotBank.Items) != 1 || gotBank.Items[0].Word != "清" {
		t.Fatalf("expected persisted bank, got %+v", gotBank.Items)
	}
	voice, ok, err := reopened.GetPreference("voice")
	if err != nil || !ok || voice != "Cherry" {
		t.Fatalf("expected persisted voice, got %q err=%v ok=%v", voice, err, ok)
	}
	image, ok, err := reopened.GetImage("清")
	if err != nil || !ok || string(image.Data) != "png" {
		t.Fatalf("expected persisted image, err=%v ok=%v", err, ok)
	}
	gotSession, ok, err := reopened.GetSession("sess_json")
	if err != nil || !ok {
		t.Fatalf("GetSession() err=%v ok=%v", err, ok)
	}
	if gotSession.Stars != 2 || len(gotSession.Tried) != 1 {
		t.Fatalf("expected persisted session, got %+v", gotSession)
	}

	if err := reopened.UpdateSession(model.GameSession{ID: "sess_missing"}); err == nil {
		t.Fatalf("expected error updating an unknown session")
	}
}

func TestNewByEnginePicksBackend(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	jsonStore, err := store.NewByEngine("json", filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatalf("NewByEngine(json) error = %v", err)
	}
	if _, ok := jsonStore.(*store.JSONStore); !ok {
		t.Fatalf("expected *JSONStore, got %T", jsonStore)
	}

	sqliteStore, err := store.NewByEngine("sqlite", filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatalf("NewByEngine(sqlite) error = %v", err)
	}
	if _, ok := sqliteStore.(*store.SQLiteStore); !ok {
		t.Fatalf("expected *SQLiteStore, got %T", sqliteStore)
	}
}
