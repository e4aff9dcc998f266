package wordbank

import (
	"embed"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"bianzi/internal/model"
)

//go:embed banks/*.json
var bundledBanks embed.FS

const (
	MinGrade = 1
	MaxGrade = 3
)

// BankCache is the slice of the store the loader needs: regenerated banks
// saved by the settings panel, keyed by grade.
type BankCache interface {
	GetBank(grade int) (model.WordBank, bool, error)
	SaveBank(bank model.WordBank) error
	DeleteBank(grade int) error
}

// Loader resolves the active bank for a grade: a cached regenerated bank
// wins, otherwise the bundled default. Read and parse failures are logged
// and degrade to the next source; the worst case is an empty bank.
type Loader struct {
	dir   string
	cache BankCache
}

func NewLoader(dir string, cache BankCache) *Loader {
	return &Loader{dir: strings.TrimSpace(dir), cache: cache}
}

func (l *Loader) Bank(grade int) model.WordBank {
	if l.cache != nil {
		bank, ok, err := l.cache.GetBank(grade)
		if err != nil {
			log.Printf("wordbank cache read failed: grade=%d err=%v", grade, err)
		} else if ok && bank.Grade == grade && len(bank.Items) > 0 {
			return normalizeBank(bank, model.BankSourceGenerated)
		}
	}
	return l.Bundled(grade)
}

// Bundled returns the default bank for a grade, preferring an on-disk file
// under the configured directory and falling back to the embedded copy.
func (l *Loader) Bundled(grade int) model.WordBank {
	if l.dir != "" {
		path := filepath.Join(l.dir, bankFileName(grade))
		if raw, err := os.ReadFile(path); err == nil {
			if bank, err := parseBank(raw, grade); err == nil {
				return bank
			} else {
				log.Printf("wordbank file parse failed: path=%s err=%v", path, err)
			}
		} else if !os.IsNotExist(err) {
			log.Printf("wordbank file read failed: path=%s err=%v", path, err)
		}
	}

	raw, err := bundledBanks.ReadFile("banks/" + bankFileName(grade))
	if err != nil {
		log.Printf("wordbank embedded read failed: grade=%d err=%v", grade, err)
		return emptyBank(grade)
	}
	bank, err := parseBank(raw, grade)
	if err != nil {
		log.Printf("wordbank embedded parse failed: grade=%d err=%v", grade, err)
		return emptyBank(grade)
	}
	return bank
}

// Reset drops the cached regenerated bank so the bundled default is active
// again for that grade.
func (l *Loader) Reset(grade int) error {
	if l.cache == nil {
		return nil
	}
	return l.cache.DeleteBank(grade)
}

func ValidGrade(grade int) bool {
	return grade >= MinGrade && grade <= MaxGrade
}

func bankFileName(grade int) string {
	return fmt.Sprintf("grade_%d.json", grade)
}

func parseBank(raw []byte, grade int) (model.WordBank, error) {
	var bank model.WordBank
	if err := json.Unmarshal(raw, &bank); err != nil {
		return model.WordBank{}, err
	}
	if bank.Grade != grade {
		return model.WordBank{}, fmt.Errorf("bank grade mismatch: want %d got %d", grade, bank.Grade)
	}
	return normalizeBank(bank, model.BankSourceBundled), nil
}

// normalizeBank rebuilds the distractor hint map so every declared
// distractor resolves to a speakable phrase at answer time.
func normalizeBank(bank model.WordBank, source string) model.WordBank {
	if bank.Source == "" {
		bank.Source = source
	}
	hints := make(map[string]string, len(bank.DistractorHints))
	for char, hint := range bank.DistractorHints {
		char = strings.TrimSpace(char)
		hint = strings.TrimSpace(hint)
		if char == "" || hint == "" {
			continue
		}
		hints[char] = hint
	}
	for _, item := range bank.Items {
		for _, distractor := range item.Distractors {
			distractor = strings.TrimSpace(distractor)
			if distractor == "" {
				continue
			}
			if _, ok := hints[distractor]; !ok {
				hints[distractor] = fmt.Sprintf("这个字是%s，和%s长得很像，再仔细看看。", distractor, item.Word)
			}
		}
	}
	bank.DistractorHints = hints
	return bank
}

func emptyBank(grade int) model.WordBank {
	return model.WordBank{
		Grade:           grade,
		Items:           []model.WordItem{},
		DistractorHints: map[string]string{},
		Source:          model.BankSourceBundled,
	}
}
