package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"bianzi/internal/llm"
	"bianzi/internal/model"
	"bianzi/internal/speech"
	"bianzi/internal/store"
	"bianzi/internal/wordbank"
)

var (
	ErrSessionNotFound  = errors.New("未找到对应的游戏会话")
	ErrInvalidGrade     = errors.New("grade 必须在 1 到 3 之间")
	ErrLLMUnavailable   = errors.New("未配置大模型能力")
	ErrBankEmpty        = errors.New("当前年级没有可用的字库")
	ErrOptionNotOffered = errors.New("该选项不在本关的选择范围内")
	ErrNotInFeedback    = errors.New("当前画面还不能进入下一关")
	ErrWordRequired     = errors.New("请提供 word")
	ErrTextRequired     = errors.New("请提供 text")
	ErrVoiceUnknown     = errors.New("未找到对应的语音音色")
	ErrSyncRunning      = errors.New("字库图片同步仍在进行中，请稍后再试")
	ErrBankGenerate     = errors.New("字库生成服务暂不可用")
)

const voicePreferenceKey = "voice"

type StartRequest struct {
	Grade int `json:"grade"`
}

type LevelView struct {
	SessionID  string   `json:"session_id"`
	Grade      int      `json:"grade"`
	Screen     string   `json:"screen"`
	Level      int      `json:"level"`
	Options    []string `json:"options"`
	Tried      []string `json:"tried"`
	Stars      int      `json:"stars"`
	Pinyin     string   `json:"pinyin"`
	Phrase     string   `json:"phrase"`
	BankSize   int      `json:"bank_size"`
	BankSource string   `json:"bank_source"`
	PromptText string   `json:"prompt_text"`
	Speech     *Speech  `json:"speech,omitempty"`
}

type Speech struct {
	AudioBase64 string `json:"audio_base64"`
	MimeType    string `json:"mime_type"`
}

type SelectRequest struct {
	SessionID string `json:"session_id"`
	Option    string `json:"option"`
}

type SelectResponse struct {
	Correct      bool    `json:"correct"`
	Screen       string  `json:"screen"`
	Stars        int     `json:"stars"`
	Tried        []string `json:"tried"`
	Word         string  `json:"word,omitempty"`
	Pinyin       string  `json:"pinyin,omitempty"`
	Phrase       string  `json:"phrase,omitempty"`
	Description  string  `json:"description,omitempty"`
	FeedbackText string  `json:"feedback_text"`
	Speech       *Speech `json:"speech,omitempty"`
	ImageBase64  string  `json:"image_base64,omitempty"`
	ImageMime    string  `json:"image_mime,omitempty"`
}

type SessionRequest struct {
	SessionID string `json:"session_id"`
}

type Service struct {
	store   store.Store
	banks   *wordbank.Loader
	llm     *llm.Client
	speaker *speech.Speaker

	syncMu        sync.Mutex
	sync          model.SyncStatus
	prefetchDelay time.Duration

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(st store.Store, banks *wordbank.Loader) *Service {
	return &Service{
		store:         st,
		banks:         banks,
		prefetchDelay: 2 * time.Second,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Service) SetLLMClient(client *llm.Client) {
	s.llm = client
	if client != nil {
		s.speaker = speech.NewSpeaker(client)
	}
}

// StartSession creates a session for a grade and enters playing at level 0.
func (s *Service) StartSession(req StartRequest) (LevelView, error) {
	if !wordbank.ValidGrade(req.Grade) {
		return LevelView{}, ErrInvalidGrade
	}
	bank := s.banks.Bank(req.Grade)
	if len(bank.Items) == 0 {
		return LevelView{}, ErrBankEmpty
	}

	now := time.Now()
	session := model.GameSession{
		ID:        "sess_" + uuid.NewString(),
		Grade:     req.Grade,
		Screen:    model.ScreenPlaying,
		Level:     0,
		Stars:     0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	item := bank.Items[0]
	session.Options = s.buildOptions(item)
	session.Tried = []string{}
	if err := s.store.SaveSession(session); err != nil {
		return LevelView{}, err
	}
	return s.levelView(session, bank), nil
}

// Advance moves a feedback-screen session to the next level, wrapping
// modulo the bank length.
func (s *Service) Advance(req SessionRequest) (LevelView, error) {
	session, bank, err := s.loadSession(req.SessionID)
	if err != nil {
		return LevelView{}, err
	}
	if session.Screen != model.ScreenFeedback {
		return LevelView{}, ErrNotInFeedback
	}

	session.Level = (session.Level + 1) % len(bank.Items)
	session.Screen = model.ScreenPlaying
	session.Options = s.buildOptions(bank.Items[session.Level])
	session.Tried = []string{}
	session.ImageWord = ""
	session.UpdatedAt = time.Now()
	if err := s.store.UpdateSession(session); err != nil {
		return LevelView{}, err
	}
	return s.levelView(session, bank), nil
}

// Select handles one tap on an option: the correct word earns a star and
// enters feedback with an illustration; a distractor is marked tried and
// answered with its spoken hint.
func (s *Service) Select(req SelectRequest) (SelectResponse, error) {
	session, bank, err := s.loadSession(req.SessionID)
	if err != nil {
		return SelectResponse{}, err
	}
	if session.Screen != model.ScreenPlaying {
		return SelectResponse{}, ErrOptionNotOffered
	}
	option := strings.TrimSpace(req.Option)
	if !containsString(session.Options, option) {
		return SelectResponse{}, ErrOptionNotOffered
	}

	item := bank.Items[session.Level]
	if option == item.Word {
		session.Screen = model.ScreenFeedback
		session.Stars++
		session.ImageWord = item.Word
		session.UpdatedAt = time.Now()
		if err := s.store.UpdateSession(session); err != nil {
			return SelectResponse{}, err
		}

		feedback := fmt.Sprintf("答对啦！%s，%s的%s，你真棒！", item.Word, item.Phrase, item.Word)
		resp := SelectResponse{
			Correct:      true,
			Screen:       session.Screen,
			Stars:        session.Stars,
			Tried:        session.Tried,
			Word:         item.Word,
			Pinyin:       item.Pinyin,
			Phrase:       item.Phrase,
			Description:  item.Description,
			FeedbackText: feedback,
			Speech:       s.speakQuietly(feedback),
		}
		if image, ok := s.imageForWord(context.Background(), item); ok {
			resp.ImageBase64 = base64.StdEncoding.EncodeToString(image.Data)
			resp.ImageMime = image.MIME
		}
		return resp, nil
	}

	// Wrong pick: disable it for the rest of the level, no score change,
	// unlimited further attempts.
	if !containsString(session.Tried, option) {
		session.Tried = append(session.Tried, option)
	}
	session.UpdatedAt = time.Now()
	if err := s.store.UpdateSession(session); err != nil {
		return SelectResponse{}, err
	}

	hint := bank.DistractorHints[option]
	if hint == "" {
		hint = fmt.Sprintf("这个不是%s的%s，再试一次吧。", item.Phrase, item.Word)
	}
	return SelectResponse{
		Correct:      false,
		Screen:       session.Screen,
		Stars:        session.Stars,
		Tried:        session.Tried,
		FeedbackText: hint,
		Speech:       s.speakQuietly(hint),
	}, nil
}

// ResetSession puts a session back on the start screen. Stars are kept.
func (s *Service) ResetSession(req SessionRequest) (LevelView, error) {
	session, bank, err := s.loadSession(req.SessionID)
	if err != nil {
		return LevelView{}, err
	}
	session.Screen = model.ScreenStart
	session.Level = 0
	session.Options = []string{}
	session.Tried = []string{}
	session.ImageWord = ""
	session.UpdatedAt = time.Now()
	if err := s.store.UpdateSession(session); err != nil {
		return LevelView{}, err
	}
	view := s.levelView(session, bank)
	view.PromptText = ""
	view.Speech = nil
	view.Pinyin = ""
	view.Phrase = ""
	return view, nil
}

// Summary returns the current session state without changing it.
func (s *Service) Summary(sessionID string) (LevelView, error) {
	session, bank, err := s.loadSession(sessionID)
	if err != nil {
		return LevelView{}, err
	}
	view := s.levelView(session, bank)
	view.Speech = nil
	return view, nil
}

// ImageForWord serves the cached illustration for a word in the active
// bank of a grade, generating and caching it on a miss.
func (s *Service) ImageForWord(grade int, word string) (model.ImageBlob, error) {
	if !wordbank.ValidGrade(grade) {
		return model.ImageBlob{}, ErrInvalidGrade
	}
	word = strings.TrimSpace(word)
	if word == "" {
		return model.ImageBlob{}, ErrWordRequired
	}
	bank := s.banks.Bank(grade)
	for _, item := range bank.Items {
		if item.Word == word {
			if image, ok := s.imageForWord(context.Background(), item); ok {
				return image, nil
			}
			return model.ImageBlob{}, ErrLLMUnavailable
		}
	}
	return model.ImageBlob{}, ErrWordRequired
}

// ShareImage publishes the illustration for a word to object storage and
// returns its public URL, so the settings panel can hand out a link
// instead of base64 bytes.
func (s *Service) ShareImage(grade int, word string) (string, error) {
	image, err := s.ImageForWord(grade, word)
	if err != nil {
		return "", err
	}
	if s.llm == nil {
		return "", ErrLLMUnavailable
	}
	fileName := fmt.Sprintf("%s%s", word, extensionForMIME(image.MIME))
	url, err := s.llm.PublishImage(context.Background(), image.Data, fileName)
	if err != nil {
		if errors.Is(err, llm.ErrUploadCapabilityUnavailable) {
			return "", ErrLLMUnavailable
		}
		return "", err
	}
	return url, nil
}

// imageForWord is cache-first: the blob store wins, the AI endpoint is
// only called on a miss and its result is cached. Failures are logged and
// leave the slot empty for the UI placeholder.
func (s *Service) imageForWord(ctx context.Context, item model.WordItem) (model.ImageBlob, bool) {
	image, ok, err := s.store.GetImage(item.Word)
	if err != nil {
		log.Printf("image cache read failed: word=%s err=%v", item.Word, err)
	} else if ok && len(image.Data) > 0 {
		return image, true
	}
	if s.llm == nil {
		return model.ImageBlob{}, false
	}

	value, err := s.llm.GenerateWordImage(ctx, item.Word, item.Description)
	if err != nil {
		log.Printf("image generation failed: word=%s err=%v", item.Word, err)
		return model.ImageBlob{}, false
	}
	data, mime, err := s.llm.DownloadImage(ctx, value)
	if err != nil || len(data) == 0 {
		log.Printf("image download failed: word=%s err=%v", item.Word, err)
		return model.ImageBlob{}, false
	}

	image = model.ImageBlob{
		Word:      item.Word,
		MIME:      mime,
		Data:      data,
		CreatedAt: time.Now(),
	}
	if err := s.store.PutImage(image); err != nil {
		log.Printf("image cache write failed: word=%s err=%v", item.Word, err)
	}
	return image, true
}

func (s *Service) loadSession(sessionID string) (model.GameSession, model.WordBank, error) {
	session, ok, err := s.store.GetSession(strings.TrimSpace(sessionID))
	if err != nil {
		return model.GameSession{}, model.WordBank{}, err
	}
	if !ok {
		return model.GameSession{}, model.WordBank{}, ErrSessionNotFound
	}
	bank := s.banks.Bank(session.Grade)
	if len(bank.Items) == 0 {
		return model.GameSession{}, model.WordBank{}, ErrBankEmpty
	}
	if session.Level >= len(bank.Items) {
		session.Level = session.Level % len(bank.Items)
	}
	return session, bank, nil
}

func (s *Service) levelView(session model.GameSession, bank model.WordBank) LevelView {
	view := LevelView{
		SessionID:  session.ID,
		Grade:      session.Grade,
		Screen:     session.Screen,
		Level:      session.Level,
		Options:    session.Options,
		Tried:      session.Tried,
		Stars:      session.Stars,
		BankSize:   len(bank.Items),
		BankSource: bank.Source,
	}
	if session.Screen == model.ScreenPlaying && session.Level < len(bank.Items) {
		item := bank.Items[session.Level]
		view.Pinyin = item.Pinyin
		view.Phrase = item.Phrase
		view.PromptText = fmt.Sprintf("小朋友，请找出%s的%s。", item.Phrase, item.Word)
		view.Speech = s.speakQuietly(view.PromptText)
	}
	return view
}

// buildOptions shuffles the union of the level word and its declared
// distractors. No options are invented and none are dropped.
func (s *Service) buildOptions(item model.WordItem) []string {
	options := make([]string, 0, len(item.Distractors)+1)
	options = append(options, item.Word)
	options = append(options, item.Distractors...)

	s.rngMu.Lock()
	s.rng.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})
	s.rngMu.Unlock()
	return options
}

// speakQuietly narrates a phrase best-effort: synthesis failures only log
// and the view ships without audio.
func (s *Service) speakQuietly(text string) *Speech {
	if s.speaker == nil {
		return nil
	}
	audio, mime, err := s.speaker.Speak(context.Background(), text, s.preferredVoice())
	if err != nil {
		log.Printf("speech synthesis failed: err=%v", err)
		return nil
	}
	return &Speech{
		AudioBase64: base64.StdEncoding.EncodeToString(audio),
		MimeType:    mime,
	}
}

func (s *Service) preferredVoice() string {
	voice, ok, err := s.store.GetPreference(voicePreferenceKey)
	if err != nil {
		log.Printf("voice preference read failed: err=%v", err)
		return ""
	}
	if !ok {
		return ""
	}
	return voice
}

func extensionForMIME(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

func containsString(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
