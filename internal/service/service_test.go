package service_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"bianzi/internal/llm"
	"bianzi/internal/model"
	"bianzi/internal/service"
	"bianzi/internal/store"
	"bianzi/internal/wordbank"
)

func TestStartSessionEntersPlayingWithShuffledOptions(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)

	view, err := svc.StartSession(service.StartRequest{Grade: 1})
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if view.SessionID == "" {
		t.Fatalf("expected session id")
	}
	if view.Screen != model.ScreenPlaying {
		t.Fatalf("expected screen %q, got %q", model.ScreenPlaying, view.Screen)
	}
	if view.Level != 0 {
		t.Fatalf("expected level 0, got %d", view.Level)
	}
	if view.Stars != 0 {
		t.Fatalf("expected 0 stars, got %d", view.Stars)
	}
	if view.PromptText == "" {
		t.Fatalf("expected a spoken prompt text")
	}

	bank, err := svc.Bank(1)
	if err != nil {
		t.Fatalf("Bank() error = %v", err)
	}
	item := bank.Items[0]
	want := append([]string{item.Word}, item.Distractors...)
	if len(view.Options) != len(want) {
		t.Fatalf("expected %d options, got %v", len(want), view.Options)
	}
	for _, option := range want {
		if !containsOption(view.Options, option) {
			t.Fatalf("expected option %q in %v", option, view.Options)
		}
	}
}

func TestStartSessionRejectsInvalidGrade(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)

	if _, err := svc.StartSession(service.StartRequest{Grade: 9}); !errors.Is(err, service.ErrInvalidGrade) {
		t.Fatalf("expected ErrInvalidGrade, got %v", err)
	}
	if _, err := svc.StartSession(service.StartRequest{Grade: 0}); !errors.Is(err, service.ErrInvalidGrade) {
		t.Fatalf("expected ErrInvalidGrade, got %v", err)
	}
}

func TestWrongPickIsRememberedAndCorrectPickScores(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)

	view, err := svc.StartSession(service.StartRequest{Grade: 1})
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	bank, err := svc.Bank(1)
	if err != nil {
		t.Fatalf("Bank() error = %v", err)
	}
	item := bank.Items[0]
	wrong := item.Distractors[0]

	resp, err := svc.Select(service.SelectRequest{SessionID: view.SessionID, Option: wrong})
	if err != nil {
		t.Fatalf("Select(wrong) error = %v", err)
	}
	if resp.Correct {
		t.Fatalf("expected wrong pick, got correct")
	}
	if resp.Screen != model.ScreenPlaying {
		t.Fatalf("expected to stay on playing, got %q", resp.Screen)
	}
	if resp.Stars != 0 {
		t.Fatalf("expected no star for wrong pick, got %d", resp.Stars)
	}
	if !containsOption(resp.Tried, wrong) {
		t.Fatalf("expected %q in tried, got %v", wrong, resp.Tried)
	}
	if resp.FeedbackText == "" {
		t.Fatalf("expected a spoken hint for the wrong pick")
	}
	if hint := bank.Hints[wrong]; hint != "" && resp.FeedbackText != hint {
		t.Fatalf("expected hint %q, got %q", hint, resp.FeedbackText)
	}

	// Tapping the same disabled option again must not duplicate it.
	resp, err = svc.Select(service.SelectRequest{SessionID: view.SessionID, Option: wrong})
	if err != nil {
		t.Fatalf("Select(wrong again) error = %v", err)
	}
	if len(resp.Tried) != 1 {
		t.Fatalf("expected tried to stay at 1 entry, got %v", resp.Tried)
	}

	resp, err = svc.Select(service.SelectRequest{SessionID: view.SessionID, Option: item.Word})
	if err != nil {
		t.Fatalf("Select(correct) error = %v", err)
	}
	if !resp.Correct {
		t.Fatalf("expected correct pick")
	}
	if resp.Screen != model.ScreenFeedback {
		t.Fatalf("expected feedback screen, got %q", resp.Screen)
	}
	if resp.Stars != 1 {
		t.Fatalf("expected 1 star, got %d", resp.Stars)
	}
	if resp.Word != item.Word || resp.Pinyin != item.Pinyin {
		t.Fatalf("expected celebrated word %q/%q, got %q/%q", item.Word, item.Pinyin, resp.Word, resp.Pinyin)
	}

	next, err := svc.Advance(service.SessionRequest{SessionID: view.SessionID})
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if next.Level != 1 {
		t.Fatalf("expected level 1 after advance, got %d", next.Level)
	}
	if len(next.Tried) != 0 {
		t.Fatalf("expected tried cleared on advance, got %v", next.Tried)
	}
	if next.Stars != 1 {
		t.Fatalf("expected stars kept across levels, got %d", next.Stars)
	}
}

func TestSelectRejectsOptionOutsideLevel(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)

	view, err := svc.StartSession(service.StartRequest{Grade: 1})
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	if _, err := svc.Select(service.SelectRequest{SessionID: view.SessionID, Option: "龙"}); !errors.Is(err, service.ErrOptionNotOffered) {
		t.Fatalf("expected ErrOptionNotOffered, got %v", err)
	}
}

func TestAdvanceRequiresFeedbackScreen(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)

	view, err := svc.StartSession(service.StartRequest{Grade: 2})
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}

	if _, err := svc.Advance(service.SessionRequest{SessionID: view.SessionID}); !errors.Is(err, service.ErrNotInFeedback) {
		t.Fatalf("expected ErrNotInFeedback, got %v", err)
	}
}

func TestLevelsWrapAroundTheBank(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)

	view, err := svc.StartSession(service.StartRequest{Grade: 1})
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	bank, err := svc.Bank(1)
	if err != nil {
		t.Fatalf("Bank() error = %v", err)
	}

	level := 0
	for round := 0; round < bank.Size; round++ {
		word := bank.Items[level].Word
		resp, err := svc.Select(service.SelectRequest{SessionID: view.SessionID, Option: word})
		if err != nil {
			t.Fatalf("Select(round %d) error = %v", round, err)
		}
		if !resp.Correct {
			t.Fatalf("expected %q to be the answer of level %d", word, level)
		}
		next, err := svc.Advance(service.SessionRequest{SessionID: view.SessionID})
		if err != nil {
			t.Fatalf("Advance(round %d) error = %v", round, err)
		}
		level = next.Level
	}

	if level != 0 {
		t.Fatalf("expected levels to wrap back to 0, got %d", level)
	}
	summary, err := svc.Summary(view.SessionID)
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if summary.Stars != bank.Size {
		t.Fatalf("expected %d stars after a full lap, got %d", bank.Size, summary.Stars)
	}
}

func TestResetSessionReturnsToStartAndKeepsStars(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)

	view, err := svc.StartSession(service.StartRequest{Grade: 1})
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	bank, err := svc.Bank(1)
	if err != nil {
		t.Fatalf("Bank() error = %v", err)
	}
	if _, err := svc.Select(service.SelectRequest{SessionID: view.SessionID, Option: bank.Items[0].Word}); err != nil {
		t.Fatalf("Select() error = %v", err)
	}

	reset, err := svc.ResetSession(service.SessionRequest{SessionID: view.SessionID})
	if err != nil {
		t.Fatalf("ResetSession() error = %v", err)
	}
	if reset.Screen != model.ScreenStart {
		t.Fatalf("expected start screen, got %q", reset.Screen)
	}
	if reset.Stars != 1 {
		t.Fatalf("expected stars kept on reset, got %d", reset.Stars)
	}
	if len(reset.Options) != 0 || reset.PromptText != "" {
		t.Fatalf("expected a bare start screen, got options=%v prompt=%q", reset.Options, reset.PromptText)
	}
}

func TestUnknownSessionReturns404Error(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)

	if _, err := svc.Summary("sess_missing"); !errors.Is(err, service.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRegenerateBankRequiresLLM(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)

	if _, err := svc.RegenerateBank(1); !errors.Is(err, service.ErrLLMUnavailable) {
		t.Fatalf("expected ErrLLMUnavailable, got %v", err)
	}
}

func TestRegenerateBankReplacesAndResetRestoresBundled(t *testing.T) {
	t.Parallel()

	generated := map[string]any{
		"words": []map[string]any{
			{
				"word":        "鸟",
				"pinyin":      "niǎo",
				"phrase":      "小鸟",
				"description": "一只站在树枝上的小鸟",
				"distractors": []string{"乌", "鸣"},
			},
			{
				"word":        "石",
				"pinyin":      "shí",
				"phrase":      "石头",
				"description": "一块圆圆的大石头",
				"distractors": []string{"右", "占"},
			},
		},
		"distractor_hints": []map[string]any{
			{"char": "乌", "hint": "乌是乌鸦的乌，里面没有一点。"},
			{"char": "鸣", "hint": "鸣是鸟叫的意思，左边有个口。"},
		},
	}
	server := newFakeModelServer(t, generated)
	defer server.Close()

	svc, _ := newTestService(t)
	svc.SetLLMClient(newFakeClient(t, server))
	svc.SetPrefetchDelay(0)

	bank, err := svc.RegenerateBank(1)
	if err != nil {
		t.Fatalf("RegenerateBank() error = %v", err)
	}
	if bank.Source != model.BankSourceGenerated {
		t.Fatalf("expected generated source, got %q", bank.Source)
	}
	if bank.Size != 2 || bank.Items[0].Word != "鸟" {
		t.Fatalf("unexpected generated bank: %+v", bank.Items)
	}
	if bank.Hints["乌"] == "" {
		t.Fatalf("expected generated hint for 乌")
	}

	waitForSyncDone(t, svc)
	status := svc.SyncStatus()
	if status.Processed != status.Total || status.Total != 2 {
		t.Fatalf("expected prefetch to cover the bank, got %+v", status)
	}

	restored, err := svc.ResetBank(1)
	if err != nil {
		t.Fatalf("ResetBank() error = %v", err)
	}
	if restored.Source != model.BankSourceBundled {
		t.Fatalf("expected bundled source after reset, got %q", restored.Source)
	}
	if restored.Items[0].Word != "日" {
		t.Fatalf("expected bundled bank restored, got first word %q", restored.Items[0].Word)
	}
}

func TestImageForWordIsCacheFirst(t *testing.T) {
	t.Parallel()

	server := newFakeModelServer(t, nil)
	defer server.Close()

	svc, _ := newTestService(t)
	svc.SetLLMClient(newFakeClient(t, server))

	first, err := svc.ImageForWord(1, "日")
	if err != nil {
		t.Fatalf("ImageForWord() error = %v", err)
	}
	if len(first.Data) == 0 || first.MIME != "image/png" {
		t.Fatalf("expected generated image bytes, got mime=%q len=%d", first.MIME, len(first.Data))
	}

	second, err := svc.ImageForWord(1, "日")
	if err != nil {
		t.Fatalf("ImageForWord() second call error = %v", err)
	}
	if string(second.Data) != string(first.Data) {
		t.Fatalf("expected cached bytes on the second call")
	}
	if got := server.imageCalls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 generation call, got %d", got)
	}
}

func TestImageForWordWithoutLLMOnMiss(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)

	if _, err := svc.ImageForWord(1, "日"); !errors.Is(err, service.ErrLLMUnavailable) {
		t.Fatalf("expected ErrLLMUnavailable, got %v", err)
	}
	if _, err := svc.ImageForWord(1, "龙"); !errors.Is(err, service.ErrWordRequired) {
		t.Fatalf("expected ErrWordRequired for a word outside the bank, got %v", err)
	}
}

func TestVoicePreferenceRoundTrip(t *testing.T) {
	t.Parallel()

	svc, st := newTestService(t)

	settings, err := svc.SetVoice("Cherry")
	if err != nil {
		t.Fatalf("SetVoice() error = %v", err)
	}
	if settings.Voice != "Cherry" {
		t.Fatalf("expected saved voice Cherry, got %q", settings.Voice)
	}

	saved, ok, err := st.GetPreference("voice")
	if err != nil || !ok {
		t.Fatalf("GetPreference() err=%v ok=%v", err, ok)
	}
	if saved != "Cherry" {
		t.Fatalf("expected persisted voice Cherry, got %q", saved)
	}
	if got := svc.VoiceSettingsView().Voice; got != "Cherry" {
		t.Fatalf("expected view to report Cherry, got %q", got)
	}
}

func TestSetVoiceRejectsUnknownName(t *testing.T) {
	t.Parallel()

	server := newFakeModelServer(t, nil)
	defer server.Close()

	svc, _ := newTestService(t)
	svc.SetLLMClient(newFakeClient(t, server))

	if _, err := svc.SetVoice("Nobody"); !errors.Is(err, service.ErrVoiceUnknown) {
		t.Fatalf("expected ErrVoiceUnknown, got %v", err)
	}
}

func TestSpeakRequiresTextAndLLM(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)

	if _, err := svc.Speak("  "); !errors.Is(err, service.ErrTextRequired) {
		t.Fatalf("expected ErrTextRequired, got %v", err)
	}
	if _, err := svc.Speak("你好"); !errors.Is(err, service.ErrLLMUnavailable) {
		t.Fatalf("expected ErrLLMUnavailable, got %v", err)
	}
}

func newTestService(t *testing.T) (*service.Service, *store.JSONStore) {
	t.Helper()
	dataFile := filepath.Join(t.TempDir(), "state.json")
	st, err := store.NewJSONStore(dataFile)
	if err != nil {
		t.Fatalf("NewJSONStore() error = %v", err)
	}
	return service.New(st, wordbank.NewLoader("", st)), st
}

// fakeModelServer answers the chat completion, image generation and TTS
// endpoints the client talks to, counting image generation calls.
type fakeModelServer struct {
	*httptest.Server
	imageCalls atomic.Int64
}

func newFakeModelServer(t *testing.T, bankPayload map[string]any) *fakeModelServer {
	t.Helper()
	fake := &fakeModelServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		content, err := json.Marshal(bankPayload)
		if err != nil {
			t.Errorf("marshal bank payload: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": string(content)}},
			},
		})
	})
	mux.HandleFunc("POST /api/v1/services/aigc/multimodal-generation/generation", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input struct {
				Text  string `json:"text"`
				Voice string `json:"voice"`
			} `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Input.Text != "" {
			// TTS request: answer with inline audio.
			_ = json.NewEncoder(w).Encode(map[string]any{
				"output": map[string]any{
					"audio": map[string]any{"data": "UklGRg=="},
				},
			})
			return
		}
		fake.imageCalls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"output": map[string]any{
				"choices": []map[string]any{
					{"message": map[string]any{"content": []map[string]any{
						{"image": fake.URL + "/pic.png"},
					}}},
				},
			},
		})
	})
	mux.HandleFunc("GET /pic.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	})
	fake.Server = httptest.NewServer(mux)
	return fake
}

func newFakeClient(t *testing.T, server *fakeModelServer) *llm.Client {
	t.Helper()
	client, err := llm.NewClient(llm.Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func waitForSyncDone(t *testing.T, svc *service.Service) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !svc.SyncStatus().Running {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("image prefetch did not finish in time")
}

func containsOption(options []string, target string) bool {
	for _, option := range options {
		if option == target {
			return true
		}
	}
	return false
}
