package telegram

import (
	"context"

	"telegram-image-editor/internal/application"
)

type commandHandler func(ctx context.Context, in application.Incoming) error

// commandRoutes maps bot commands (without the slash) to facade handlers.
func (r *RealTelegramBotAdapter) commandRoutes() map[string]commandHandler {
	return map[string]commandHandler{
		"start":    r.handleStartCommand,
		"help":     r.facade.HandleHelp,
		"about":    r.facade.HandleAbout,
		"example":  r.facade.HandleExample,
		"stats":    r.facade.HandleStats,
		"history":  r.facade.HandleHistory,
		"cancel":   r.facade.HandleCancel,
		"retry":    r.facade.HandleRetry,
		"settings": r.facade.HandleSettings,

		"admin_stats": r.adminOnly(r.facade.HandleAdminStats),
	}
}

func (r *RealTelegramBotAdapter) adminOnly(next commandHandler) commandHandler {
	return func(ctx context.Context, in application.Incoming) error {
		if !r.isAdmin(in.Profile.TelegramID) {
			r.log.Warn().Int64("tg_id", in.Profile.TelegramID).Msg("unauthorized admin command")
		}
		// The facade answers non-admins itself.
		return next(ctx, in)
	}
}

// handleStartCommand sets the per-chat menu before the welcome.
func (r *RealTelegramBotAdapter) handleStartCommand(ctx context.Context, in application.Incoming) error {
	if err := r.SetMenuCommands(ctx, in.ChatID, r.isAdmin(in.Profile.TelegramID)); err != nil {
		r.log.Warn().Err(err).Int64("tg_id", in.Profile.TelegramID).Msg("failed to set dynamic menu commands")
	}
	return r.facade.HandleStart(ctx, in)
}
