package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	xerrors "TickFlow-Notifier/internal/errors"
)

// telegramMessageLimit 是 Bot API 单条消息的最大长度。
const telegramMessageLimit = 4096

const defaultTelegramTimeout = 10 * time.Second

// TelegramConfig 描述 Telegram 机器人配置。
type TelegramConfig struct {
	Token   string `json:"token"`
	ChatID  string `json:"chat_id"`
	BaseURL string `json:"base_url"`
	// TimeoutSeconds 是单次发送的超时，默认 10 秒。
	TimeoutSeconds int `json:"timeout_seconds"`
}

// TelegramBackend 通过 Telegram Bot API 发送告警。
type TelegramBackend struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

// NewTelegramBackend 创建 Telegram 渠道。token 或 chat_id 缺失时返回 nil，
// 调用方的 fan-out 会自动跳过。
func NewTelegramBackend(cfg TelegramConfig) *TelegramBackend {
	if strings.TrimSpace(cfg.Token) == "" || strings.TrimSpace(cfg.ChatID) == "" {
		return nil
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	timeout := defaultTelegramTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &TelegramBackend{
		token:   cfg.Token,
		chatID:  cfg.ChatID,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Channel 返回 Telegram 渠道。
func (t *TelegramBackend) Channel() Channel { return ChannelTelegram }

// Send 调用 sendMessage 投递告警，超长消息被截断。
func (t *TelegramBackend) Send(ctx context.Context, alert Alert) error {
	if t == nil {
		return nil
	}
	text := truncateMessage(alert.Message, telegramMessageLimit)

	payload, err := json.Marshal(map[string]string{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeNotifyFailure, err, "编码 Telegram 请求失败")
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeNotifyFailure, err, "构造 Telegram 请求失败")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeNotifyFailure, err, "发送 Telegram 请求失败",
			xerrors.WithRetryable(true))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return xerrors.New(xerrors.CodeNotifyFailure,
			fmt.Sprintf("Telegram 返回状态码 %d: %s", resp.StatusCode, body),
			xerrors.WithRetryable(resp.StatusCode >= 500))
	}

	var reply struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return xerrors.Wrap(xerrors.CodeNotifyFailure, err, "解析 Telegram 响应失败")
	}
	if !reply.OK {
		return xerrors.New(xerrors.CodeNotifyFailure, "Telegram 拒绝消息: "+reply.Description)
	}
	return nil
}

// truncateMessage 在字节上限内截断，退到 rune 边界避免产生非法 UTF-8。
func truncateMessage(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

var _ Backend = (*TelegramBackend)(nil)
