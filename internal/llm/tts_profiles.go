package llm

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// VoiceProfile is one selectable narrator voice and the language it reads.
type VoiceProfile struct {
	Name string `json:"name"`
	Lang string `json:"lang"`
}

type voiceProfileFile struct {
	FallbackVoices []string       `json:"fallback_voices"`
	Voices         []VoiceProfile `json:"voices"`
}

// voiceCatalog holds the enumerable voice list. The profile file can be
// re-read at runtime so a caregiver sees newly provisioned voices without a
// restart.
type voiceCatalog struct {
	path string

	mu             sync.RWMutex
	voices         []VoiceProfile
	fallbackVoices []string
}

func newVoiceCatalog(path string) *voiceCatalog {
	c := &voiceCatalog{path: strings.TrimSpace(path)}
	if err := c.reload(); err != nil {
		c.mu.Lock()
		c.voices, c.fallbackVoices = defaultVoiceProfiles()
		c.mu.Unlock()
	}
	return c
}

func (c *voiceCatalog) reload() error {
	if c.path == "" {
		c.mu.Lock()
		c.voices, c.fallbackVoices = defaultVoiceProfiles()
		c.mu.Unlock()
		return nil
	}
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return err
	}
	var file voiceProfileFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse tts profile file failed: %w", err)
	}
	voices := make([]VoiceProfile, 0, len(file.Voices))
	for _, voice := range file.Voices {
		name := strings.TrimSpace(voice.Name)
		if name == "" {
			continue
		}
		voices = append(voices, VoiceProfile{
			Name: name,
			Lang: strings.TrimSpace(voice.Lang),
		})
	}
	fallback := uniqueNonEmptyStrings(file.FallbackVoices)
	if len(voices) == 0 {
		voices, _ = defaultVoiceProfiles()
	}
	if len(fallback) == 0 {
		_, fallback = defaultVoiceProfiles()
	}

	c.mu.Lock()
	c.voices = voices
	c.fallbackVoices = fallback
	c.mu.Unlock()
	return nil
}

func (c *voiceCatalog) list() []VoiceProfile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]VoiceProfile(nil), c.voices...)
}

func (c *voiceCatalog) matchingLang(lang string) []string {
	normalized := normalizeTTSLanguageType(lang)
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.voices))
	for _, voice := range c.voices {
		if normalizeTTSLanguageType(voice.Lang) == normalized {
			names = append(names, voice.Name)
		}
	}
	return names
}

func (c *voiceCatalog) fallback() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.fallbackVoices...)
}

func (c *voiceCatalog) has(name string) bool {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, voice := range c.voices {
		if strings.EqualFold(voice.Name, trimmed) {
			return true
		}
	}
	return false
}

func defaultVoiceProfiles() ([]VoiceProfile, []string) {
	return []VoiceProfile{
			{Name: "Cherry", Lang: "Chinese"},
			{Name: "Serena", Lang: "Chinese"},
			{Name: "Ethan", Lang: "English"},
		},
		[]string{"Cherry", "Serena"}
}

// Voices enumerates the selectable narrator voices.
func (c *Client) Voices() []VoiceProfile {
	return c.voices.list()
}

// ReloadVoices re-reads the profile file, keeping the previous list on
// failure.
func (c *Client) ReloadVoices() error {
	return c.voices.reload()
}

// HasVoice reports whether a name is in the current catalog.
func (c *Client) HasVoice(name string) bool {
	return c.voices.has(name)
}
