package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"telegram-image-editor/internal/domain"
	"telegram-image-editor/internal/domain/model"
	"telegram-image-editor/internal/domain/ports/adapter"
	"telegram-image-editor/internal/domain/ports/repository"
	"telegram-image-editor/internal/infra/i18n"
	"telegram-image-editor/internal/infra/logging"
	"telegram-image-editor/internal/usecase"
)

const (
	historySize      = 5
	retryLookback    = 20
	historyPromptLen = 40
	adminTopTypes    = 5
	adminDays        = 7

	adminUnfinishedLimit = 1000
)

// Incoming is one chat message as seen by the facade.
type Incoming struct {
	Profile   model.TelegramProfile
	ChatID    int64
	MessageID int
	Text      string // message text, or the arguments of a command
}

type FacadeOptions struct {
	AdminIDs   []int64
	MaxImageMB int
	Version    string
}

// BotFacade composes usecases into the bot conversations and writes the
// replies through the bot adapter.
type BotFacade struct {
	users   UserUseCaseIface
	edits   EditUseCaseIface
	stats   StatsUseCaseIface
	pending repository.PendingImageRepository
	images  ImageValidator
	bot     adapter.TelegramBotAdapter
	t       *i18n.Translator
	opts    FacadeOptions
	admins  map[int64]struct{}

	wg      sync.WaitGroup
	running atomic.Int32
	now     func() time.Time
	log     *zerolog.Logger
}

func NewBotFacade(
	users UserUseCaseIface,
	edits EditUseCaseIface,
	stats StatsUseCaseIface,
	pending repository.PendingImageRepository,
	images ImageValidator,
	bot adapter.TelegramBotAdapter,
	translator *i18n.Translator,
	opts FacadeOptions,
	logger *zerolog.Logger,
) *BotFacade {
	admins := make(map[int64]struct{}, len(opts.AdminIDs))
	for _, id := range opts.AdminIDs {
		admins[id] = struct{}{}
	}
	l := logger.With().Str("component", "BotFacade").Logger()
	return &BotFacade{
		users:   users,
		edits:   edits,
		stats:   stats,
		pending: pending,
		images:  images,
		bot:     bot,
		t:       translator,
		opts:    opts,
		admins:  admins,
		now:     time.Now,
		log:     &l,
	}
}

// SetBot wires the outgoing adapter; the adapter itself needs the facade first.
func (b *BotFacade) SetBot(bot adapter.TelegramBotAdapter) { b.bot = bot }

// Wait blocks until every edit started by the facade has been delivered.
func (b *BotFacade) Wait() { b.wg.Wait() }

func (b *BotFacade) IsAdmin(tgID int64) bool {
	_, ok := b.admins[tgID]
	return ok
}

// register makes sure the sender exists; first contact is counted once.
func (b *BotFacade) register(ctx context.Context, in Incoming) (*model.User, bool, error) {
	u, isNew, err := b.users.RegisterOrFetch(ctx, in.Profile)
	if err != nil {
		return nil, false, err
	}
	if isNew {
		_ = b.stats.RecordNewUser(ctx, b.now())
	}
	return u, isNew, nil
}

func (b *BotFacade) menu() [][]adapter.InlineButton {
	return [][]adapter.InlineButton{
		{{Text: b.t.T("btn_help"), Data: "cmd:help"}, {Text: b.t.T("btn_stats"), Data: "cmd:stats"}},
		{{Text: b.t.T("btn_about"), Data: "cmd:about"}, {Text: b.t.T("btn_example"), Data: "cmd:example"}},
	}
}

func (b *BotFacade) HandleStart(ctx context.Context, in Incoming) error {
	_, isNew, err := b.register(ctx, in)
	if err != nil {
		logging.With(ctx, b.log).Error().Err(err).Msg("register user")
		return b.bot.SendMessage(ctx, in.ChatID, b.t.T("internal_error"))
	}
	text := b.t.T("welcome", b.opts.MaxImageMB)
	if isNew {
		text += "\n\n" + b.t.T("welcome_new")
	}
	return b.bot.SendButtons(ctx, in.ChatID, text, b.menu())
}

func (b *BotFacade) HandleHelp(ctx context.Context, in Incoming) error {
	return b.bot.SendMessage(ctx, in.ChatID, b.t.T("help"))
}

func (b *BotFacade) HandleAbout(ctx context.Context, in Incoming) error {
	return b.bot.SendMessage(ctx, in.ChatID, b.t.T("about", b.opts.Version))
}

func (b *BotFacade) HandleExample(ctx context.Context, in Incoming) error {
	return b.bot.SendMessage(ctx, in.ChatID, b.t.T("example"))
}

func (b *BotFacade) HandleDownloadFailed(ctx context.Context, in Incoming) error {
	return b.bot.SendMessage(ctx, in.ChatID, b.t.T("image_download_failed"))
}

func (b *BotFacade) HandleUnknown(ctx context.Context, in Incoming) error {
	return b.bot.SendMessage(ctx, in.ChatID, b.t.T("unknown_command"))
}

func (b *BotFacade) HandleStats(ctx context.Context, in Incoming) error {
	if _, _, err := b.register(ctx, in); err != nil {
		return b.bot.SendMessage(ctx, in.ChatID, b.t.T("internal_error"))
	}
	s, err := b.stats.UserSummary(ctx, in.Profile.TelegramID)
	if err != nil {
		logging.With(ctx, b.log).Error().Err(err).Msg("user summary")
		return b.bot.SendMessage(ctx, in.ChatID, b.t.T("internal_error"))
	}
	if s.TotalEdits == 0 {
		return b.bot.SendMessage(ctx, in.ChatID, b.t.T("stats_none"))
	}
	favorite := "-"
	if s.FavoriteEditType != "" {
		favorite = b.editTypeLabel(s.FavoriteEditType)
	}
	return b.bot.SendMessage(ctx, in.ChatID, b.t.T("stats_user",
		s.TotalEdits, s.SuccessfulEdits, s.FailedEdits, s.SuccessRate, favorite, s.MemberSince.Format("2006-01-02")))
}

func (b *BotFacade) HandleHistory(ctx context.Context, in Incoming) error {
	jobs, err := b.edits.Recent(ctx, in.Profile.TelegramID, historySize)
	if err != nil {
		logging.With(ctx, b.log).Error().Err(err).Msg("recent jobs")
		return b.bot.SendMessage(ctx, in.ChatID, b.t.T("internal_error"))
	}
	if len(jobs) == 0 {
		return b.bot.SendMessage(ctx, in.ChatID, b.t.T("history_empty"))
	}
	var sb strings.Builder
	sb.WriteString(b.t.T("history_header"))
	for _, j := range jobs {
		sb.WriteString("\n")
		sb.WriteString(b.t.T("history_line", statusIcon(j.Status), j.CreatedAt.UTC().Format("2006-01-02 15:04"),
			b.editTypeLabel(j.EditType), truncate(j.Prompt, historyPromptLen)))
	}
	return b.bot.SendMessage(ctx, in.ChatID, sb.String())
}

// HandleCancel stops the sender's live edits and drops a waiting image.
func (b *BotFacade) HandleCancel(ctx context.Context, in Incoming) error {
	tgID := in.Profile.TelegramID
	n, err := b.edits.Cancel(ctx, tgID, strings.TrimSpace(in.Text))
	if err != nil && !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrInvalidTransition) {
		logging.With(ctx, b.log).Error().Err(err).Msg("cancel edits")
		return b.bot.SendMessage(ctx, in.ChatID, b.t.T("internal_error"))
	}
	if err := b.pending.Clear(ctx, tgID); err != nil {
		logging.With(ctx, b.log).Warn().Err(err).Msg("clear pending image")
	}
	if n > 0 {
		return b.bot.SendMessage(ctx, in.ChatID, b.t.T("cancel_done", n))
	}
	return b.bot.SendMessage(ctx, in.ChatID, b.t.T("cancel_none"))
}

// HandleRetry retries the job named in the arguments, or the newest failed one.
func (b *BotFacade) HandleRetry(ctx context.Context, in Incoming) error {
	tgID := in.Profile.TelegramID
	jobID := strings.TrimSpace(in.Text)

	jobs, err := b.edits.Recent(ctx, tgID, retryLookback)
	if err != nil {
		logging.With(ctx, b.log).Error().Err(err).Msg("recent jobs")
		return b.bot.SendMessage(ctx, in.ChatID, b.t.T("internal_error"))
	}
	var target *model.EditJob
	for _, j := range jobs {
		if jobID != "" && j.ID == jobID {
			target = j
			break
		}
		if jobID == "" && j.Status == model.EditStatusFailed {
			target = j
			break
		}
	}
	switch {
	case target == nil && jobID == "":
		return b.bot.SendMessage(ctx, in.ChatID, b.t.T("retry_none"))
	case target != nil && !target.CanRetry():
		return b.bot.SendMessage(ctx, in.ChatID, b.t.T("retry_not_allowed"))
	case target != nil:
		jobID = target.ID
	}

	prompt, label := "-", "-"
	if target != nil {
		prompt, label = target.Prompt, b.editTypeLabel(target.EditType)
	}
	progressID, _ := b.bot.SendProgress(ctx, in.ChatID, b.t.T("job_processing", prompt, label))
	b.spawn(ctx, in.ChatID, progressID, func(ctx context.Context) (usecase.EditResult, error) {
		return b.edits.Retry(ctx, tgID, jobID)
	})
	return nil
}

// HandleImage validates an upload and keeps it until the prompt arrives.
func (b *BotFacade) HandleImage(ctx context.Context, in Incoming, data []byte, fileName string) error {
	if _, _, err := b.register(ctx, in); err != nil {
		return b.bot.SendMessage(ctx, in.ChatID, b.t.T("internal_error"))
	}
	info, err := b.images.Validate(data)
	if err != nil {
		return b.bot.SendMessage(ctx, in.ChatID, b.t.T("image_invalid", reason(err), b.opts.MaxImageMB))
	}
	img := &repository.PendingImage{
		Data:       data,
		FileName:   fileName,
		MIME:       info.MIME,
		MessageID:  in.MessageID,
		ReceivedAt: b.now(),
	}
	if err := b.pending.Put(ctx, in.Profile.TelegramID, img); err != nil {
		logging.With(ctx, b.log).Error().Err(err).Msg("store pending image")
		return b.bot.SendMessage(ctx, in.ChatID, b.t.T("internal_error"))
	}
	return b.bot.SendMessage(ctx, in.ChatID, b.t.T("image_received",
		strings.ToUpper(info.Format), info.Width, info.Height, float64(info.SizeBytes)/(1024*1024)))
}

// HandlePrompt turns a text message into an edit of the pending image.
// The edit runs in the background; the reply arrives when it is terminal.
func (b *BotFacade) HandlePrompt(ctx context.Context, in Incoming) error {
	tgID := in.Profile.TelegramID
	if _, _, err := b.register(ctx, in); err != nil {
		return b.bot.SendMessage(ctx, in.ChatID, b.t.T("internal_error"))
	}
	img, err := b.pending.Get(ctx, tgID)
	if errors.Is(err, domain.ErrNoPendingImage) {
		return b.bot.SendMessage(ctx, in.ChatID, b.t.T("need_image"))
	}
	if err != nil {
		logging.With(ctx, b.log).Error().Err(err).Msg("load pending image")
		return b.bot.SendMessage(ctx, in.ChatID, b.t.T("internal_error"))
	}

	prompt := strings.TrimSpace(in.Text)
	switch n := utf8.RuneCountInString(prompt); {
	case n < model.MinPromptLength:
		return b.bot.SendMessage(ctx, in.ChatID, b.t.T("prompt_too_short"))
	case n > model.MaxPromptLength:
		return b.bot.SendMessage(ctx, in.ChatID, b.t.T("prompt_too_long"))
	}
	if err := b.pending.Clear(ctx, tgID); err != nil {
		logging.With(ctx, b.log).Warn().Err(err).Msg("clear pending image")
	}

	label := b.editTypeLabel(model.ClassifyEditType(prompt))
	progressID, err := b.bot.SendProgress(ctx, in.ChatID, b.t.T("job_processing", prompt, label))
	if err != nil {
		logging.With(ctx, b.log).Warn().Err(err).Msg("send progress message")
	}
	req := usecase.EditRequest{
		TelegramUserID: tgID,
		ChatID:         in.ChatID,
		MessageID:      in.MessageID,
		Prompt:         prompt,
	}
	b.spawn(ctx, in.ChatID, progressID, func(ctx context.Context) (usecase.EditResult, error) {
		return b.edits.Submit(ctx, req, img.Data)
	})
	return nil
}

// spawn runs an edit on its own goroutine and delivers the outcome.
func (b *BotFacade) spawn(ctx context.Context, chatID int64, progressID int, run func(ctx context.Context) (usecase.EditResult, error)) {
	b.wg.Add(1)
	b.running.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.running.Add(-1)
		// Edits outlive the update that started them; /cancel stops them.
		ctx := context.WithoutCancel(ctx)
		res, err := run(ctx)
		b.deliver(ctx, chatID, progressID, res, err)
	}()
}

func (b *BotFacade) deliver(ctx context.Context, chatID int64, progressID int, res usecase.EditResult, err error) {
	log := logging.With(ctx, b.log)
	if progressID != 0 {
		if derr := b.bot.DeleteMessage(ctx, chatID, progressID); derr != nil {
			log.Debug().Err(derr).Msg("delete progress message")
		}
	}

	var sendErr error
	switch {
	case err != nil:
		sendErr = b.bot.SendMessage(ctx, chatID, b.errorText(err))
	case res.Job == nil:
		sendErr = b.bot.SendMessage(ctx, chatID, b.t.T("internal_error"))
	case res.Job.Status == model.EditStatusCompleted:
		job := res.Job
		secs, _ := job.ProcessingSeconds()
		sendErr = b.bot.SendPhoto(ctx, chatID, adapter.Photo{
			FileName: "edited." + job.OutputFormat.Extension(),
			Data:     res.Image,
			Caption:  b.t.T("job_completed", b.editTypeLabel(job.EditType), secs, job.Prompt),
			Buttons:  b.menu(),
		})
	case res.Job.Status == model.EditStatusCancelled:
		sendErr = b.bot.SendMessage(ctx, chatID, b.t.T("job_cancelled"))
	default:
		text := usecase.FailureText(b.t, res.Err, res.Job)
		if res.Job.CanRetry() {
			sendErr = b.bot.SendButtons(ctx, chatID, text, [][]adapter.InlineButton{
				{{Text: b.t.T("btn_retry"), Data: "retry:" + res.Job.ID}},
			})
		} else {
			sendErr = b.bot.SendMessage(ctx, chatID, text)
		}
	}
	if sendErr != nil {
		log.Error().Err(sendErr).Int64("chat_id", chatID).Msg("deliver edit result")
	}
}

func (b *BotFacade) errorText(err error) string {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		return b.t.T("image_invalid", ve.Reason, b.opts.MaxImageMB)
	case errors.Is(err, domain.ErrJobInFlight):
		return b.t.T("job_running")
	case errors.Is(err, domain.ErrRetryNotAllowed):
		return b.t.T("retry_not_allowed")
	case errors.Is(err, domain.ErrNoPendingImage):
		return b.t.T("retry_image_expired")
	case errors.Is(err, domain.ErrNotFound):
		return b.t.T("retry_none")
	}
	return b.t.T("internal_error")
}

func (b *BotFacade) HandleSettings(ctx context.Context, in Incoming) error {
	u, _, err := b.register(ctx, in)
	if err != nil {
		return b.bot.SendMessage(ctx, in.ChatID, b.t.T("internal_error"))
	}
	return b.sendSettings(ctx, in.ChatID, "", u.Preferences)
}

func (b *BotFacade) sendSettings(ctx context.Context, chatID int64, prefix string, p model.UserPreferences) error {
	rows := [][]adapter.InlineButton{
		{{Text: b.t.T("btn_aspect"), Data: "set:aspect"}, {Text: b.t.T("btn_format"), Data: "set:format"}},
	}
	return b.bot.SendButtons(ctx, chatID, prefix+b.t.T("settings", p.AspectRatio, p.OutputFormat), rows)
}

func (b *BotFacade) ShowAspectPicker(ctx context.Context, in Incoming) error {
	var rows [][]adapter.InlineButton
	var row []adapter.InlineButton
	for i, a := range model.SupportedAspectRatios {
		row = append(row, adapter.InlineButton{Text: string(a), Data: "aspect:" + string(a)})
		if len(row) == 4 || i == len(model.SupportedAspectRatios)-1 {
			rows = append(rows, row)
			row = nil
		}
	}
	return b.bot.SendButtons(ctx, in.ChatID, b.t.T("settings_pick_aspect"), rows)
}

func (b *BotFacade) ShowFormatPicker(ctx context.Context, in Incoming) error {
	row := make([]adapter.InlineButton, 0, len(model.SupportedOutputFormats))
	for _, f := range model.SupportedOutputFormats {
		row = append(row, adapter.InlineButton{Text: strings.ToUpper(string(f)), Data: "format:" + string(f)})
	}
	return b.bot.SendButtons(ctx, in.ChatID, b.t.T("settings_pick_format"), [][]adapter.InlineButton{row})
}

func (b *BotFacade) SetAspectRatio(ctx context.Context, in Incoming, value string) error {
	return b.setPreferences(ctx, in, model.UserPreferences{AspectRatio: model.AspectRatio(value)})
}

func (b *BotFacade) SetOutputFormat(ctx context.Context, in Incoming, value string) error {
	return b.setPreferences(ctx, in, model.UserPreferences{OutputFormat: model.ParseOutputFormat(value)})
}

func (b *BotFacade) setPreferences(ctx context.Context, in Incoming, prefs model.UserPreferences) error {
	u, err := b.users.SetPreferences(ctx, in.Profile.TelegramID, prefs)
	if err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			return b.bot.SendMessage(ctx, in.ChatID, ve.Error())
		}
		logging.With(ctx, b.log).Error().Err(err).Msg("set preferences")
		return b.bot.SendMessage(ctx, in.ChatID, b.t.T("internal_error"))
	}
	return b.sendSettings(ctx, in.ChatID, b.t.T("settings_saved")+"\n\n", u.Preferences)
}

func (b *BotFacade) HandleAdminStats(ctx context.Context, in Incoming) error {
	if !b.IsAdmin(in.Profile.TelegramID) {
		return b.bot.SendMessage(ctx, in.ChatID, b.t.T("admin_only"))
	}
	s, err := b.stats.PerformanceSummary(ctx)
	if err != nil {
		logging.With(ctx, b.log).Error().Err(err).Msg("performance summary")
		return b.bot.SendMessage(ctx, in.ChatID, b.t.T("internal_error"))
	}
	unfinished, err := b.edits.Unfinished(ctx, adminUnfinishedLimit)
	if err != nil {
		logging.With(ctx, b.log).Warn().Err(err).Msg("unfinished jobs")
	}
	var sb strings.Builder
	sb.WriteString(b.t.T("admin_stats", s.TotalUsers, s.TotalEdits, s.SuccessfulEdits, s.FailedEdits,
		s.SuccessRate, s.AvgProcessingSeconds, b.running.Load(), len(unfinished)))

	if top, err := b.stats.TopEditTypes(ctx, adminTopTypes); err == nil && len(top) > 0 {
		sb.WriteString("\n" + b.t.T("admin_top_types"))
		for _, tc := range top {
			fmt.Fprintf(&sb, "\n• %s: %d", b.editTypeLabel(tc.Type), tc.Count)
		}
	}
	if days, err := b.stats.DailyStats(ctx, adminDays); err == nil && len(days) > 0 {
		sb.WriteString("\n\n" + b.t.T("admin_daily", adminDays))
		for _, d := range days {
			sb.WriteString("\n" + b.t.T("admin_daily_line", d.Date, d.TotalEdits, d.NewUsers))
		}
	}
	return b.bot.SendMessage(ctx, in.ChatID, sb.String())
}

func (b *BotFacade) editTypeLabel(t model.EditType) string {
	key := "edit_type_" + string(t)
	if b.t.Has(key) {
		return b.t.T(key)
	}
	return string(t)
}

func statusIcon(s model.EditStatus) string {
	switch s {
	case model.EditStatusCompleted:
		return "✅"
	case model.EditStatusFailed:
		return "❌"
	case model.EditStatusCancelled:
		return "🛑"
	}
	return "⏳"
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

func reason(err error) string {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return err.Error()
}
