package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"bianzi/internal/llm"
	"bianzi/internal/model"
	"bianzi/internal/wordbank"
)

type BankView struct {
	Grade       int               `json:"grade"`
	Source      string            `json:"source"`
	Size        int               `json:"size"`
	GeneratedAt time.Time         `json:"generated_at,omitempty"`
	Items       []model.WordItem  `json:"items"`
	Hints       map[string]string `json:"distractor_hints"`
}

type VoiceSettings struct {
	Voice  string             `json:"voice"`
	Voices []llm.VoiceProfile `json:"voices"`
}

// Bank returns the active bank for a grade: the cached regenerated bank if
// one exists, otherwise the bundled default.
func (s *Service) Bank(grade int) (BankView, error) {
	if !wordbank.ValidGrade(grade) {
		return BankView{}, ErrInvalidGrade
	}
	return bankView(s.banks.Bank(grade)), nil
}

// RegenerateBank replaces the active bank for a grade with a freshly
// generated one and kicks off the background image prefetch. This is the
// one path whose raw error reaches the caregiver.
func (s *Service) RegenerateBank(grade int) (BankView, error) {
	if !wordbank.ValidGrade(grade) {
		return BankView{}, ErrInvalidGrade
	}
	if s.llm == nil {
		return BankView{}, ErrLLMUnavailable
	}
	s.syncMu.Lock()
	running := s.sync.Running
	s.syncMu.Unlock()
	if running {
		return BankView{}, ErrSyncRunning
	}

	generated, err := s.llm.GenerateWordBank(context.Background(), grade, 6)
	if err != nil {
		return BankView{}, fmt.Errorf("%w: %v", ErrBankGenerate, err)
	}

	items := make([]model.WordItem, 0, len(generated.Entries))
	for _, entry := range generated.Entries {
		items = append(items, model.WordItem{
			Word:        entry.Word,
			Pinyin:      entry.Pinyin,
			Phrase:      entry.Phrase,
			Description: entry.Description,
			Distractors: entry.Distractors,
		})
	}
	hints := make(map[string]string, len(generated.Hints))
	for _, hint := range generated.Hints {
		hints[hint.Char] = hint.Hint
	}

	bank := model.WordBank{
		Grade:           grade,
		Items:           items,
		DistractorHints: hints,
		Source:          model.BankSourceGenerated,
		GeneratedAt:     time.Now(),
	}
	if err := s.store.SaveBank(bank); err != nil {
		return BankView{}, err
	}

	active := s.banks.Bank(grade)
	s.startImageSync(active)
	return bankView(active), nil
}

// ResetBank drops the generated bank so the bundled default for the grade
// is active again.
func (s *Service) ResetBank(grade int) (BankView, error) {
	if !wordbank.ValidGrade(grade) {
		return BankView{}, ErrInvalidGrade
	}
	if err := s.banks.Reset(grade); err != nil {
		return BankView{}, err
	}
	return bankView(s.banks.Bank(grade)), nil
}

// startImageSync prefetches illustrations for every bank item in the
// background. Fire-and-forget: each failure logs and the loop continues,
// with a fixed delay between AI calls and only a counter visible outside.
func (s *Service) startImageSync(bank model.WordBank) {
	s.syncMu.Lock()
	s.sync = model.SyncStatus{Running: true, Processed: 0, Total: len(bank.Items)}
	s.syncMu.Unlock()

	go func() {
		for _, item := range bank.Items {
			_, ok, err := s.store.GetImage(item.Word)
			if err == nil && ok {
				s.bumpSync()
				continue
			}
			if _, ok := s.imageForWord(context.Background(), item); !ok {
				log.Printf("image prefetch skipped: word=%s", item.Word)
			}
			s.bumpSync()
			time.Sleep(s.prefetchDelay)
		}
		s.syncMu.Lock()
		s.sync.Running = false
		s.syncMu.Unlock()
	}()
}

func (s *Service) bumpSync() {
	s.syncMu.Lock()
	s.sync.Processed++
	s.syncMu.Unlock()
}

func (s *Service) SyncStatus() model.SyncStatus {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	return s.sync
}

// SetPrefetchDelay overrides the fixed gap between prefetch calls.
func (s *Service) SetPrefetchDelay(d time.Duration) {
	if d >= 0 {
		s.prefetchDelay = d
	}
}

// VoiceSettingsView reports the saved voice preference and the selectable
// voice catalog.
func (s *Service) VoiceSettingsView() VoiceSettings {
	settings := VoiceSettings{Voice: s.preferredVoice()}
	if s.llm != nil {
		settings.Voices = s.llm.Voices()
	}
	return settings
}

// SetVoice saves the narrator preference, re-reading the voice catalog
// once before rejecting an unknown name.
func (s *Service) SetVoice(name string) (VoiceSettings, error) {
	name = strings.TrimSpace(name)
	if name != "" && s.llm != nil && !s.llm.HasVoice(name) {
		if err := s.llm.ReloadVoices(); err != nil {
			log.Printf("voice catalog reload failed: err=%v", err)
		}
		if !s.llm.HasVoice(name) {
			return VoiceSettings{}, ErrVoiceUnknown
		}
	}
	if err := s.store.SetPreference(voicePreferenceKey, name); err != nil {
		return VoiceSettings{}, err
	}
	return s.VoiceSettingsView(), nil
}

// Speak narrates an arbitrary phrase with the saved voice preference.
func (s *Service) Speak(text string) (Speech, error) {
	if strings.TrimSpace(text) == "" {
		return Speech{}, ErrTextRequired
	}
	if s.speaker == nil {
		return Speech{}, ErrLLMUnavailable
	}
	spoken := s.speakQuietly(text)
	if spoken == nil {
		return Speech{}, ErrLLMUnavailable
	}
	return *spoken, nil
}

func bankView(bank model.WordBank) BankView {
	return BankView{
		Grade:       bank.Grade,
		Source:      bank.Source,
		Size:        len(bank.Items),
		GeneratedAt: bank.GeneratedAt,
		Items:       bank.Items,
		Hints:       bank.DistractorHints,
	}
}
