package events

import (
	"context"
	"log/slog"
	"sort"
)

// NewAuditHandler 把每条已提交的程序事件写入审计日志，属性按键排序展开。
func NewAuditHandler(log *slog.Logger) Handler {
	return func(ctx context.Context, evt Event) error {
		keys := make([]string, 0, len(evt.Attributes))
		for key := range evt.Attributes {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		attrs := make([]any, 0, len(keys))
		for _, key := range keys {
			attrs = append(attrs, slog.String(key, evt.Attributes[key]))
		}
		log.LogAttrs(ctx, slog.LevelInfo, "program_event",
			slog.String("type", evt.Type),
			slog.String("program", evt.Program),
			slog.String("transaction", evt.Transaction),
			slog.Time("occurred_at", evt.OccurredAt),
			slog.Group("attributes", attrs...),
		)
		return nil
	}
}
