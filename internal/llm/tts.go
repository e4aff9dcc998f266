package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	ErrVoiceCapabilityUnavailable = errors.New("未配置语音合成能力")
)

const dashScopeTTSGenerationPath = "/api/v1/services/aigc/multimodal-generation/generation"

// All prompts are read at the same fixed rate; kids hear a steady pace.
const speechRate = 1.0

// SynthesizeSpeech reads a phrase aloud with the preferred voice, walking
// the fallback candidates when the upstream rejects a voice name.
func (c *Client) SynthesizeSpeech(ctx context.Context, text string, preferredVoice string) ([]byte, string, error) {
	if strings.TrimSpace(c.voiceAPIKey) == "" || strings.TrimSpace(c.voiceModelID) == "" {
		return nil, "", ErrVoiceCapabilityUnavailable
	}
	trimmedText := strings.TrimSpace(text)
	if trimmedText == "" {
		return nil, "", ErrInvalidResponse
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	requestURL := strings.TrimRight(c.voiceBaseURL, "/") + dashScopeTTSGenerationPath
	for _, voice := range c.voiceCandidates(preferredVoice) {
		body := map[string]any{
			"model": strings.TrimSpace(c.voiceModelID),
			"input": map[string]any{
				"text":          trimmedText,
				"voice":         voice,
				"language_type": normalizeTTSLanguageType(c.voiceLangCode),
			},
			"parameters": map[string]any{
				"stream":      false,
				"speech_rate": speechRate,
			},
		}
		respBody, err := c.doMediaJSON(ctx, requestURL, c.voiceAPIKey, body)
		if err != nil {
			if isInvalidTTSVoiceError(err) {
				continue
			}
			return nil, "", err
		}
		audioBytes, mimeType, err := c.parseTTSAudio(ctx, respBody)
		if err != nil {
			if isInvalidTTSVoiceError(err) {
				continue
			}
			return nil, "", err
		}
		return audioBytes, mimeType, nil
	}
	return nil, "", fmt.Errorf("tts generation failed: no available voice")
}

// voiceCandidates orders the voices to try: the saved preference, then
// profile voices that match the configured language, then the fallback
// list, then the configured default.
func (c *Client) voiceCandidates(preferred string) []string {
	candidates := make([]string, 0, 8)
	if v := strings.TrimSpace(preferred); v != "" {
		candidates = append(candidates, v)
	}
	candidates = append(candidates, c.voices.matchingLang(c.voiceLangCode)...)
	candidates = append(candidates, c.voices.fallback()...)
	candidates = append(candidates, c.voiceID)
	return uniqueNonEmptyStrings(candidates)
}

func normalizeTTSLanguageType(lang string) string {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "", "auto":
		return "Auto"
	case "zh", "cn", "zh-cn", "chinese":
		return "Chinese"
	case "en", "en-us", "english":
		return "English"
	default:
		return strings.TrimSpace(lang)
	}
}

func isInvalidTTSVoiceError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "voice") &&
		(strings.Contains(msg, "invalid") ||
			strings.Contains(msg, "illegal") ||
			strings.Contains(msg, "not found"))
}

func (c *Client) parseTTSAudio(ctx context.Context, respBody []byte) ([]byte, string, error) {
	var resp struct {
		StatusCode int    `json:"status_code"`
		RequestID  string `json:"request_id"`
		Code       string `json:"code"`
		Message    string `json:"message"`
		Output     struct {
			Audio struct {
				Data string `json:"data"`
				URL  string `json:"url"`
			} `json:"audio"`
		} `json:"output"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, "", fmt.Errorf("parse tts response failed: %w", err)
	}
	if resp.StatusCode != 0 && resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("tts request failed: status_code=%d request_id=%s code=%s message=%s", resp.StatusCode, strings.TrimSpace(resp.RequestID), strings.TrimSpace(resp.Code), strings.TrimSpace(resp.Message))
	}
	if code := strings.TrimSpace(resp.Code); code != "" && !strings.EqualFold(code, "ok") && code != "200" {
		return nil, "", fmt.Errorf("tts request failed: request_id=%s code=%s message=%s", strings.TrimSpace(resp.RequestID), code, strings.TrimSpace(resp.Message))
	}
	if data := strings.TrimSpace(resp.Output.Audio.Data); data != "" {
		audio, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, "", fmt.Errorf("decode tts audio data failed: %w", err)
		}
		return audio, "audio/wav", nil
	}
	if audioURL := strings.TrimSpace(resp.Output.Audio.URL); audioURL != "" {
		return c.downloadBinary(ctx, audioURL, "audio/wav")
	}
	return nil, "", ErrInvalidResponse
}

func (c *Client) downloadBinary(ctx context.Context, resourceURL string, fallbackContentType string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSpace(resourceURL), nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("download resource failed, status=%d", resp.StatusCode)
	}
	contentType := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = fallbackContentType
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return body, contentType, nil
}
