package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	xerrors "Awe-Chain/internal/errors"
	"Awe-Chain/internal/runtime"
	"Awe-Chain/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelDingTalk Channel = "dingtalk"
	ChannelSlack    Channel = "slack"
	ChannelWebhook  Channel = "webhook"
	ChannelLog      Channel = "log"
)

// Event 描述一次需要告警的交易失败。
type Event struct {
	Code       xerrors.Code      `json:"code"`
	Message    string            `json:"message"`
	Severity   xerrors.Severity  `json:"severity"`
	Outcome    string            `json:"outcome"`
	Duration   time.Duration     `json:"duration"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

func (e Event) summary() string {
	text := fmt.Sprintf("[%s] %s: %s (耗时 %s)", e.Severity, e.Code, e.Message, e.Duration)
	if len(e.Metadata) == 0 {
		return text
	}
	keys := make([]string, 0, len(e.Metadata))
	for k := range e.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		text += fmt.Sprintf("\n- %s: %s", k, e.Metadata[k])
	}
	return text
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers []Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			set = append(set, n)
		}
	}
	return &FanoutDispatcher{notifiers: set}
}

// Len 返回已注册的通知器数量。
func (d *FanoutDispatcher) Len() int {
	if d == nil {
		return 0
	}
	return len(d.notifiers)
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// WebhookNotifier 通过 HTTP 回调发送告警，按渠道选择消息体格式。
type WebhookNotifier struct {
	Kind   Channel
	URL    string
	Client *http.Client
}

// Channel 返回渠道类型。
func (n *WebhookNotifier) Channel() Channel { return n.Kind }

func (n *WebhookNotifier) payload(event Event) any {
	switch n.Kind {
	case ChannelSlack:
		return map[string]string{"text": event.summary()}
	case ChannelDingTalk:
		return map[string]any{"msgtype": "text", "text": map[string]string{"content": event.summary()}}
	default:
		return event
	}
}

// Notify 发送回调请求，非 2xx 响应视为失败。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.URL == "" {
		logger.L().Warn("WebhookNotifier 未正确配置，跳过发送", slog.String("code", string(event.Code)))
		return nil
	}
	body, err := json.Marshal(n.payload(event))
	if err != nil {
		return fmt.Errorf("编码告警失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构建告警请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送告警失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("告警回调返回状态码 %d", resp.StatusCode)
	}
	return nil
}

// LogNotifier 把告警写入审计日志。
type LogNotifier struct{}

// Channel 返回日志渠道。
func (LogNotifier) Channel() Channel { return ChannelLog }

// Notify 写入审计日志。
func (LogNotifier) Notify(_ context.Context, event Event) error {
	logger.Audit().Error("alert",
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("message", event.Message))
	return nil
}

// ParseSeverity 解析最低告警级别，空值表示 critical。
func ParseSeverity(s string) (xerrors.Severity, error) {
	switch xerrors.Severity(strings.ToLower(strings.TrimSpace(s))) {
	case "", xerrors.SeverityCritical:
		return xerrors.SeverityCritical, nil
	case xerrors.SeverityWarning:
		return xerrors.SeverityWarning, nil
	case xerrors.SeverityInfo:
		return xerrors.SeverityInfo, nil
	default:
		return "", fmt.Errorf("未知的告警级别: %s", s)
	}
}

func severityRank(s xerrors.Severity) int {
	switch s {
	case xerrors.SeverityCritical:
		return 2
	case xerrors.SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Observer 包装 runtime.Observer，在失败交易的错误级别达到阈值时发出告警。
type Observer struct {
	next       runtime.Observer
	dispatcher Dispatcher
	min        xerrors.Severity
	timeout    time.Duration
	now        func() time.Time
	async      bool
}

// NewObserver 创建告警观察者。next 可为空。
func NewObserver(next runtime.Observer, dispatcher Dispatcher, minSeverity xerrors.Severity) *Observer {
	return &Observer{next: next, dispatcher: dispatcher, min: minSeverity, timeout: 5 * time.Second, now: time.Now, async: true}
}

// ObserveTransaction 实现 runtime.Observer。
func (o *Observer) ObserveTransaction(outcome string, code xerrors.Code, duration time.Duration) {
	if o.next != nil {
		o.next.ObserveTransaction(outcome, code, duration)
	}
	if code == "" || o.dispatcher == nil {
		return
	}
	attr := xerrors.AttributesOf(code)
	if severityRank(attr.Severity) < severityRank(o.min) {
		return
	}
	event := Event{
		Code:       code,
		Message:    attr.Message,
		Severity:   attr.Severity,
		Outcome:    outcome,
		Duration:   duration,
		OccurredAt: o.now().UTC(),
	}
	send := func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
		defer cancel()
		if err := o.dispatcher.Notify(ctx, event); err != nil {
			logger.L().Warn("发送告警失败", slog.String("code", string(code)), slog.String("error", err.Error()))
		}
	}
	if o.async {
		go send()
		return
	}
	send()
}

// ObserveInstruction 实现 runtime.Observer。
func (o *Observer) ObserveInstruction(program, outcome string) {
	if o.next != nil {
		o.next.ObserveInstruction(program, outcome)
	}
}

var _ runtime.Observer = (*Observer)(nil)
