package telegram

import (
	"context"

	"telegram-image-editor/internal/application"
)

type cbHandler func(ctx context.Context, in application.Incoming, arg string) error

type prefixCB struct {
	Prefix string
	Fn     cbHandler
}

// cbRoutes holds exact-match callback data.
func (r *RealTelegramBotAdapter) cbRoutes() map[string]cbHandler {
	return map[string]cbHandler{
		"cmd:menu":    ignoreArg(r.facade.HandleStart),
		"cmd:help":    ignoreArg(r.facade.HandleHelp),
		"cmd:stats":   ignoreArg(r.facade.HandleStats),
		"cmd:about":   ignoreArg(r.facade.HandleAbout),
		"cmd:example": ignoreArg(r.facade.HandleExample),
		"cmd:history": ignoreArg(r.facade.HandleHistory),
		"set:aspect":  ignoreArg(r.facade.ShowAspectPicker),
		"set:format":  ignoreArg(r.facade.ShowFormatPicker),
	}
}

// cbPrefixRoutes receive the data after the prefix.
func (r *RealTelegramBotAdapter) cbPrefixRoutes() []prefixCB {
	return []prefixCB{
		{Prefix: "aspect:", Fn: r.facade.SetAspectRatio},
		{Prefix: "format:", Fn: r.facade.SetOutputFormat},
		{Prefix: "retry:", Fn: r.retryCBRoute},
	}
}

func (r *RealTelegramBotAdapter) retryCBRoute(ctx context.Context, in application.Incoming, jobID string) error {
	in.Text = jobID
	return r.facade.HandleRetry(ctx, in)
}

func ignoreArg(fn func(ctx context.Context, in application.Incoming) error) cbHandler {
	return func(ctx context.Context, in application.Incoming, _ string) error { return fn(ctx, in) }
}
