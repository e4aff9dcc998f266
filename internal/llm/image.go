package llm

import (
	"bytes"
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
	ErrImageCapabilityUnavailable = errors.New("未配置生图能力")
)

const dashScopeImageGenerationPath = "/api/v1/services/aigc/multimodal-generation/generation"

// GenerateWordImage requests one illustrative picture for a word and
// returns the first image payload found in the reply, either a data URL or
// a downloadable URL. No retries: a failure leaves the slot empty upstream.
func (c *Client) GenerateWordImage(ctx context.Context, word string, description string) (string, error) {
	if strings.TrimSpace(c.imageAPIKey) == "" {
		return "", ErrImageCapabilityUnavailable
	}
	trimmedWord := strings.TrimSpace(word)
	if trimmedWord == "" {
		return "", ErrInvalidResponse
	}

	prompt := fmt.Sprintf(
		"童话儿童绘本风插画，画面表现“%s”：%s。柔和光线，颜色明快，主体清晰居中，适合幼儿认字卡片；禁止出现文字、水印、logo。",
		trimmedWord,
		strings.TrimSpace(description),
	)
	requestURL := strings.TrimRight(c.imageBaseURL, "/") + dashScopeImageGenerationPath
	body := map[string]any{
		"model": c.imageModel,
		"input": map[string]any{
			"messages": []map[string]any{
				{
					"role": "user",
					"content": []map[string]any{
						{"text": prompt},
					},
				},
			},
		},
		"parameters": map[string]any{
			"prompt_extend": true,
			"watermark":     false,
			"n":             1,
			"size":          "1280*1280",
		},
	}

	respBody, err := c.doMediaJSON(ctx, requestURL, c.imageAPIKey, body)
	if err != nil {
		return "", err
	}
	return parseGeneratedImageValue(respBody)
}

func parseGeneratedImageValue(respBody []byte) (string, error) {
	var resp struct {
		Data []struct {
			URL     string `json:"url"`
			B64JSON string `json:"b64_json"`
		} `json:"data"`
		Code    string `json:"code"`
		Message string `json:"message"`
		Output  struct {
			Image   string   `json:"image"`
			Images  []string `json:"images"`
			Results []struct {
				URL     string `json:"url"`
				Image   string `json:"image"`
				B64JSON string `json:"b64_json"`
			} `json:"results"`
			Choices []struct {
				Message struct {
					Content []struct {
						Image   string `json:"image"`
						URL     string `json:"url"`
						B64JSON string `json:"b64_json"`
					} `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		} `json:"output"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("parse image generation response failed: %w", err)
	}
	if code := strings.TrimSpace(resp.Code); code != "" && !strings.EqualFold(code, "200") && !strings.EqualFold(code, "ok") {
		return "", fmt.Errorf("image generation failed: code=%s message=%s", code, strings.TrimSpace(resp.Message))
	}
	for _, item := range resp.Output.Choices {
		for _, content := range item.Message.Content {
			if trimmed := strings.TrimSpace(content.B64JSON); trimmed != "" {
				return "data:image/png;base64," + trimmed, nil
			}
			if trimmed := strings.TrimSpace(content.Image); trimmed != "" {
				return trimmed, nil
			}
			if trimmed := strings.TrimSpace(content.URL); trimmed != "" {
				return trimmed, nil
			}
		}
	}
	for _, item := range resp.Output.Results {
		if trimmed := strings.TrimSpace(item.B64JSON); trimmed != "" {
			return "data:image/png;base64," + trimmed, nil
		}
		if trimmed := strings.TrimSpace(item.Image); trimmed != "" {
			return trimmed, nil
		}
		if trimmed := strings.TrimSpace(item.URL); trimmed != "" {
			return trimmed, nil
		}
	}
	if trimmed := strings.TrimSpace(resp.Output.Image); trimmed != "" {
		return trimmed, nil
	}
	for _, imageURL := range resp.Output.Images {
		if trimmed := strings.TrimSpace(imageURL); trimmed != "" {
			return trimmed, nil
		}
	}
	for _, item := range resp.Data {
		if trimmed := strings.TrimSpace(item.B64JSON); trimmed != "" {
			return "data:image/png;base64," + trimmed, nil
		}
		if trimmed := strings.TrimSpace(item.URL); trimmed != "" {
			return trimmed, nil
		}
	}
	return "", ErrInvalidResponse
}

// DownloadImage resolves an image value into raw bytes and a mime type.
// Data URLs decode locally; anything else is fetched.
func (c *Client) DownloadImage(ctx context.Context, imageURL string) ([]byte, string, error) {
	trimmedURL := strings.TrimSpace(imageURL)
	if trimmedURL == "" {
		return nil, "", ErrInvalidResponse
	}
	if strings.HasPrefix(strings.ToLower(trimmedURL), "data:image/") {
		return decodeDataImageURL(trimmedURL)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, trimmedURL, nil)
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
		return nil, "", fmt.Errorf("download image failed, status=%d", resp.StatusCode)
	}
	contentType := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = "image/png"
	}
	return body, contentType, nil
}

func decodeDataImageURL(dataURL string) ([]byte, string, error) {
	comma := strings.Index(dataURL, ",")
	if comma <= 0 || comma >= len(dataURL)-1 {
		return nil, "", fmt.Errorf("invalid data url")
	}
	header := dataURL[:comma]
	payload := dataURL[comma+1:]
	if !strings.HasPrefix(strings.ToLower(header), "data:image/") {
		return nil, "", fmt.Errorf("unsupported data url")
	}
	if !strings.Contains(strings.ToLower(header), ";base64") {
		return nil, "", fmt.Errorf("data url is not base64 encoded")
	}
	mime := strings.TrimSpace(strings.TrimPrefix(strings.Split(header, ";")[0], "data:"))
	if mime == "" {
		mime = "image/png"
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, "", err
	}
	return decoded, mime, nil
}

func (c *Client) doMediaJSON(ctx context.Context, requestURL string, apiKey string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(apiKey))
	req.Header.Set("Content-Type", "application/json")

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
		return nil, fmt.Errorf("media request failed, status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}
