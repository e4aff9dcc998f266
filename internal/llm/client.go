package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	ErrInvalidResponse = errors.New("invalid llm response")
)

type Config struct {
	BaseURL             string
	APIKey              string
	ChatModel           string
	AppID               string
	PlatformID          string
	Timeout             time.Duration
	ImageBaseURL        string
	ImageAPIKey         string
	ImageModel          string
	ImageResponseFormat string
	VoiceBaseURL        string
	VoiceAPIKey         string
	VoiceID             string
	VoiceModelID        string
	VoiceLangCode       string
	VoiceFormat         string
	TTSProfilePath      string
	COSSecretID         string
	COSSecretKey        string
	COSRegion           string
	COSBucketName       string
	COSPublicDomain     string
}

type Client struct {
	baseURL             string
	apiKey              string
	chatModel           string
	appID               string
	platformID          string
	timeout             time.Duration
	httpClient          *http.Client
	imageBaseURL        string
	imageAPIKey         string
	imageModel          string
	imageResponseFormat string
	voiceBaseURL        string
	voiceAPIKey         string
	voiceID             string
	voiceModelID        string
	voiceLangCode       string
	voiceFormat         string
	voices              *voiceCatalog
	cosSecretID         string
	cosSecretKey        string
	cosRegion           string
	cosBucketName       string
	cosPublicDomain     string
}

// WordEntry mirrors one generated bank record before the service reshapes
// it into the model types.
type WordEntry struct {
	Word        string   `json:"word"`
	Pinyin      string   `json:"pinyin"`
	Phrase      string   `json:"phrase"`
	Description string   `json:"description"`
	Distractors []string `json:"distractors"`
}

type DistractorHint struct {
	Char string `json:"char"`
	Hint string `json:"hint"`
}

type GeneratedBank struct {
	Entries    []WordEntry
	Hints      []DistractorHint
	RawContent string
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("llm api key is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://dashscope.aliyuncs.com"
	}
	chatModel := strings.TrimSpace(cfg.ChatModel)
	if chatModel == "" {
		chatModel = "qwen-plus"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	imageBaseURL := strings.TrimSpace(cfg.ImageBaseURL)
	if imageBaseURL == "" {
		imageBaseURL = baseURL
	}
	imageAPIKey := strings.TrimSpace(cfg.ImageAPIKey)
	if imageAPIKey == "" {
		imageAPIKey = strings.TrimSpace(cfg.APIKey)
	}
	imageModel := strings.TrimSpace(cfg.ImageModel)
	if imageModel == "" {
		imageModel = "wan2.6-image"
	}
	imageResponseFormat := strings.ToLower(strings.TrimSpace(cfg.ImageResponseFormat))
	if imageResponseFormat != "url" && imageResponseFormat != "b64_json" {
		imageResponseFormat = "b64_json"
	}
	voiceBaseURL := strings.TrimSpace(cfg.VoiceBaseURL)
	if voiceBaseURL == "" {
		voiceBaseURL = baseURL
	}
	voiceAPIKey := strings.TrimSpace(cfg.VoiceAPIKey)
	if voiceAPIKey == "" {
		voiceAPIKey = strings.TrimSpace(cfg.APIKey)
	}
	voiceID := strings.TrimSpace(cfg.VoiceID)
	if voiceID == "" {
		voiceID = "Cherry"
	}
	voiceModelID := strings.TrimSpace(cfg.VoiceModelID)
	if voiceModelID == "" {
		voiceModelID = "qwen3-tts-flash"
	}
	voiceLangCode := strings.TrimSpace(cfg.VoiceLangCode)
	if voiceLangCode == "" {
		voiceLangCode = "Chinese"
	}
	voiceFormat := strings.TrimSpace(cfg.VoiceFormat)
	if voiceFormat == "" {
		voiceFormat = "wav"
	}
	appID := strings.TrimSpace(cfg.AppID)
	if appID == "" {
		appID = "4"
	}
	platformID := strings.TrimSpace(cfg.PlatformID)
	if platformID == "" {
		platformID = "5"
	}

	return &Client{
		baseURL:             strings.TrimRight(baseURL, "/"),
		apiKey:              strings.TrimSpace(cfg.APIKey),
		chatModel:           chatModel,
		appID:               appID,
		platformID:          platformID,
		timeout:             cfg.Timeout,
		httpClient:          &http.Client{},
		imageBaseURL:        strings.TrimRight(imageBaseURL, "/"),
		imageAPIKey:         imageAPIKey,
		imageModel:          imageModel,
		imageResponseFormat: imageResponseFormat,
		voiceBaseURL:        strings.TrimRight(voiceBaseURL, "/"),
		voiceAPIKey:         voiceAPIKey,
		voiceID:             voiceID,
		voiceModelID:        voiceModelID,
		voiceLangCode:       voiceLangCode,
		voiceFormat:         voiceFormat,
		voices:              newVoiceCatalog(cfg.TTSProfilePath),
		cosSecretID:         strings.TrimSpace(cfg.COSSecretID),
		cosSecretKey:        strings.TrimSpace(cfg.COSSecretKey),
		cosRegion:           strings.TrimSpace(cfg.COSRegion),
		cosBucketName:       strings.TrimSpace(cfg.COSBucketName),
		cosPublicDomain:     strings.TrimSpace(cfg.COSPublicDomain),
	}, nil
}

// GenerateWordBank asks the chat model for a fresh set of confusable
// character records for one grade, with the output schema declared in the
// prompt so the reply parses as a single JSON object.
func (c *Client) GenerateWordBank(ctx context.Context, grade int, count int) (GeneratedBank, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if count <= 0 {
		count = 6
	}

	body := map[string]any{
		"model": c.chatModel,
		"messages": []map[string]any{
			{
				"role":    "system",
				"content": "你是小学语文形近字练习出题助手。请输出简洁中文JSON，不要输出任何额外说明。",
			},
			{
				"role": "user",
				"content": fmt.Sprintf(
					"年级:%d。请生成%d组形近字辨认练习，每组包含一个目标字和2个形近或音近干扰字，难度适合该年级。输出JSON字段: words(数组，每项含 word, pinyin, phrase(组词), description(给孩子的一句话解释，可用于配图), distractors(2个干扰字数组)), distractor_hints(数组，每项含 char(干扰字), hint(一句话说明这个干扰字的常见用法，帮助孩子区分))。所有干扰字都必须出现在 distractor_hints 中。",
					grade,
					count,
				),
			},
		},
		"temperature": 0.7,
		"max_tokens":  2000,
		"response_format": map[string]any{
			"type": "json_object",
		},
	}

	raw, err := c.doJSON(ctx, "/v1/chat/completions", body)
	if err != nil {
		return GeneratedBank{}, err
	}
	content, err := extractAssistantContent(raw)
	if err != nil {
		return GeneratedBank{}, err
	}

	var parsed struct {
		Words []WordEntry      `json:"words"`
		Hints []DistractorHint `json:"distractor_hints"`
	}
	if err := json.Unmarshal([]byte(extractJSONPayload(content)), &parsed); err != nil {
		return GeneratedBank{}, fmt.Errorf("parse word bank result failed: %w content=%s", err, truncateText(content, 200))
	}

	entries := make([]WordEntry, 0, len(parsed.Words))
	for _, entry := range parsed.Words {
		entry.Word = strings.TrimSpace(entry.Word)
		entry.Pinyin = strings.TrimSpace(entry.Pinyin)
		entry.Phrase = strings.TrimSpace(entry.Phrase)
		entry.Description = strings.TrimSpace(entry.Description)
		entry.Distractors = uniqueNonEmptyStrings(entry.Distractors)
		if entry.Word == "" || len(entry.Distractors) == 0 {
			continue
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		return GeneratedBank{}, ErrInvalidResponse
	}
	hints := make([]DistractorHint, 0, len(parsed.Hints))
	for _, hint := range parsed.Hints {
		hint.Char = strings.TrimSpace(hint.Char)
		hint.Hint = strings.TrimSpace(hint.Hint)
		if hint.Char == "" || hint.Hint == "" {
			continue
		}
		hints = append(hints, hint)
	}

	return GeneratedBank{
		Entries:    entries,
		Hints:      hints,
		RawContent: content,
	}, nil
}

func (c *Client) doJSON(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-app-id", c.appID)
	req.Header.Set("x-platform-id", c.platformID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("llm request failed, status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}

func extractAssistantContent(raw []byte) (string, error) {
	var resp struct {
		Choices []struct {
			Message struct {
				Content any `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrInvalidResponse
	}
	content := resp.Choices[0].Message.Content
	switch v := content.(type) {
	case string:
		return strings.TrimSpace(v), nil
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := m["text"].(string); ok {
				parts = append(parts, text)
			}
		}
		if len(parts) == 0 {
			return "", ErrInvalidResponse
		}
		return strings.TrimSpace(strings.Join(parts, "\n")), nil
	default:
		return "", ErrInvalidResponse
	}
}

func extractJSONPayload(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "{}"
	}
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end >= start {
		return trimmed[start : end+1]
	}
	return trimmed
}

func uniqueNonEmptyStrings(items []string) []string {
	result := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}

func truncateText(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
