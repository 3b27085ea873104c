package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zhouzirui/z-tavern/companion/internal/metrics"
	"github.com/zhouzirui/z-tavern/companion/internal/model/conversation"
)

const (
	endpointChat        = "chat"
	endpointSuggestions = "get_suggestions"
	endpointTranslate   = "translate"
	endpointAudio       = "generate_audio"
	endpointSave        = "save_conversation"
	endpointClear       = "clear_conversation"
	endpointSetProfile  = "set_user_profile"
	endpointGetProfile  = "get_user_profile"
	endpointScenario    = "set_scenario"
	endpointCheckAudio  = "audio_check"

	maxErrorBody = 512

	// timestampLayout 与后端存储的毫秒级 ISO-8601 格式一致
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// Client 通过 HTTP JSON 与语言后端通信
type Client struct {
	baseURL *url.URL
	http    *http.Client
}

// New 创建后端客户端，httpClient 为空时使用 NewHTTPClient(30s)
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("backend url %q must be absolute", baseURL)
	}
	if httpClient == nil {
		httpClient = NewHTTPClient(30 * time.Second)
	}
	return &Client{baseURL: parsed, http: httpClient}, nil
}

// BaseURL 返回配置的后端根地址
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// ResolveURL 将相对音频地址解析为后端上的绝对地址
func (c *Client) ResolveURL(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	parsed, err := url.Parse(ref)
	if err != nil || parsed.IsAbs() {
		return ref
	}
	return c.baseURL.ResolveReference(parsed).String()
}

// Chat 发送一条用户消息并返回校验后的回复
func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	var resp ChatResponse
	if err := c.postJSON(ctx, endpointChat, req, &resp); err != nil {
		return ChatResponse{}, err
	}
	if resp.Text() == "" {
		return ChatResponse{}, ErrEmptyReply
	}
	resp.AudioURL = c.ResolveURL(resp.AudioURL)
	return resp, nil
}

// Suggestions 获取用户下一句可以说什么的候选
func (c *Client) Suggestions(ctx context.Context, username, language, scenario string) ([]string, error) {
	var resp suggestionsResponse
	req := suggestionsRequest{Username: strings.TrimSpace(username), Language: language, Scenario: scenario}
	if err := c.postJSON(ctx, endpointSuggestions, req, &resp); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(resp.Suggestions))
	for _, s := range resp.Suggestions {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// Translate 将文本从 source 翻译为 target
func (c *Client) Translate(ctx context.Context, text, source, target string) (string, error) {
	var resp translateResponse
	if err := c.postJSON(ctx, endpointTranslate, translateRequest{Text: text, Source: source, Target: target}, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.TranslatedText) == "" {
		return "", fmt.Errorf("backend %s: empty translated_text", endpointTranslate)
	}
	return resp.TranslatedText, nil
}

// GenerateAudio 请求后端合成语音并返回音频绝对地址
func (c *Client) GenerateAudio(ctx context.Context, req AudioRequest) (string, error) {
	var resp audioResponse
	if err := c.postJSON(ctx, endpointAudio, req, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.AudioURL) == "" {
		return "", fmt.Errorf("backend %s: empty audio_url", endpointAudio)
	}
	return c.ResolveURL(resp.AudioURL), nil
}

// SaveConversation 保存一个批次的对话
func (c *Client) SaveConversation(ctx context.Context, username, batchID string, entries []conversation.Entry) error {
	turns := make([]SavedTurn, 0, len(entries))
	for _, entry := range entries {
		text := entry.Text
		turn := SavedTurn{
			Timestamp:   entry.Timestamp.UTC().Format(timestampLayout),
			BatchID:     entry.BatchID,
			IsDiscarded: entry.Discarded,
			AudioURL:    entry.AudioRef,
		}
		if entry.Sender == conversation.SenderUser {
			turn.User = &text
		} else {
			turn.AI = &text
		}
		turns = append(turns, turn)
	}

	req := saveRequest{Username: username, Conversation: turns, IsDiscarded: false, BatchID: batchID}
	return c.postJSON(ctx, endpointSave, req, nil)
}

// ClearConversation 在后端将批次标记为已丢弃
func (c *Client) ClearConversation(ctx context.Context, req ClearRequest) error {
	return c.postJSON(ctx, endpointClear, req, nil)
}

// SetUserProfile 保存用户的语言偏好
func (c *Client) SetUserProfile(ctx context.Context, profile Profile) error {
	return c.postJSON(ctx, endpointSetProfile, profile, nil)
}

// GetUserProfile 返回已保存的偏好，后端没有语言记录或不认识该用户时 ok 为 false
func (c *Client) GetUserProfile(ctx context.Context, username string) (Profile, bool, error) {
	endpoint := c.endpointURL(endpointGetProfile)
	endpoint.RawQuery = url.Values{"username": {username}}.Encode()

	var resp profileResponse
	if err := c.do(ctx, endpointGetProfile, http.MethodGet, endpoint.String(), nil, &resp); err != nil {
		if IsNotFound(err) {
			return Profile{}, false, nil
		}
		return Profile{}, false, err
	}
	if resp.Data == nil || (resp.Data.Language == "" && resp.Data.Locale == "") {
		return Profile{}, false, nil
	}
	return *resp.Data, true, nil
}

// SetScenario 告知后端用户进入的角色扮演场景
func (c *Client) SetScenario(ctx context.Context, username, title, language, description string) error {
	req := scenarioRequest{Username: username, Scenario: title, Language: language, Description: description}
	return c.postJSON(ctx, endpointScenario, req, nil)
}

// CheckAudio 检查音频资源是否存在，不下载内容
func (c *Client) CheckAudio(ctx context.Context, ref string) error {
	target := c.ResolveURL(ref)
	if target == "" {
		return errors.New("empty audio reference")
	}
	return c.do(ctx, endpointCheckAudio, http.MethodHead, target, nil, nil)
}

func (c *Client) endpointURL(name string) *url.URL {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/api/" + name
	return &u
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body, out any) error {
	return c.do(ctx, endpoint, http.MethodPost, c.endpointURL(endpoint).String(), body, out)
}

func (c *Client) do(ctx context.Context, endpoint, method, target string, body, out any) (err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.BackendRequests.WithLabelValues(endpoint, outcome).Inc()
		metrics.BackendDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", endpoint, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{Endpoint: endpoint, Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		log.Printf("[backend] %s %s failed: status=%d", method, endpoint, resp.StatusCode)
		return apiErr
	}

	if out == nil || method == http.MethodHead {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}
