package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"bianzi/internal/model"
)

type fileState struct {
	Banks       map[string]model.WordBank    `json:"banks"`
	Preferences map[string]string            `json:"preferences"`
	Images      map[string]model.ImageBlob   `json:"images"`
	Sessions    map[string]model.GameSession `json:"sessions"`
}

type JSONStore struct {
	filePath string
	mu       sync.RWMutex
	state    fileState
}

func NewJSONStore(filePath string) (*JSONStore, error) {
	s := &JSONStore{
		filePath: filePath,
		state: fileState{
			Banks:       make(map[string]model.WordBank),
			Preferences: make(map[string]string),
			Images:      make(map[string]model.ImageBlob),
			Sessions:    make(map[string]model.GameSession),
		},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONStore) SaveBank(bank model.WordBank) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Banks[bankKey(bank.Grade)] = bank
	return s.persistLocked()
}

func (s *JSONStore) GetBank(grade int) (model.WordBank, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bank, ok := s.state.Banks[bankKey(grade)]
	return bank, ok, nil
}

func (s *JSONStore) DeleteBank(grade int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state.Banks, bankKey(grade))
	return s.persistLocked()
}

func (s *JSONStore) SetPreference(key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Preferences[key] = value
	return s.persistLocked()
}

func (s *JSONStore) GetPreference(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.state.Preferences[key]
	return value, ok, nil
}

func (s *JSONStore) PutImage(image model.ImageBlob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Images[image.Word] = image
	return s.persistLocked()
}

func (s *JSONStore) GetImage(word string) (model.ImageBlob, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	image, ok := s.state.Images[word]
	return image, ok, nil
}

func (s *JSONStore) SaveSession(session model.GameSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Sessions[session.ID] = session
	return s.persistLocked()
}

func (s *JSONStore) GetSession(id string) (model.GameSession, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.state.Sessions[id]
	return session, ok, nil
}

func (s *JSONStore) UpdateSession(session model.GameSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.Sessions[session.ID]; !ok {
		return errors.New("session not found")
	}
	s.state.Sessions[session.ID] = session
	return s.persistLocked()
}

func bankKey(grade int) string {
	return strconv.Itoa(grade)
}

func (s *JSONStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	if state.Banks == nil {
		state.Banks = make(map[string]model.WordBank)
	}
	if state.Preferences == nil {
		state.Preferences = make(map[string]string)
	}
	if state.Images == nil {
		state.Images = make(map[string]model.ImageBlob)
	}
	if state.Sessions == nil {
		state.Sessions = make(map[string]model.GameSession)
	}
	s.state = state
	return nil
}

func (s *JSONStore) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := s.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.filePath)
}
