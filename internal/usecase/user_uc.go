package usecase

import (
	"context"
	"errors"
	"time"

	"telegram-image-editor/internal/domain"
	"telegram-image-editor/internal/domain/model"
	"telegram-image-editor/internal/domain/ports/repository"
	"telegram-image-editor/internal/infra/logging"
	"telegram-image-editor/internal/infra/metrics"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ UserUseCase = (*userUC)(nil)

// UserUseCase exposes user operations used by the bot and the edit flow.
type UserUseCase interface {
	// RegisterOrFetch reports isNew=true only for the call that created the user.
	RegisterOrFetch(ctx context.Context, p model.TelegramProfile) (u *model.User, isNew bool, err error)
	GetByTelegramID(ctx context.Context, tgID int64) (*model.User, error)
	SetPreferences(ctx context.Context, tgID int64, prefs model.UserPreferences) (*model.User, error)
	Count(ctx context.Context) (int, error)
}

type userUC struct {
	users repository.UserRepository
	tm    repository.TransactionManager
	log   *zerolog.Logger
}

func NewUserUseCase(users repository.UserRepository, tm repository.TransactionManager, logger *zerolog.Logger) *userUC {
	l := logger.With().Str("component", "UserUC").Logger()
	return &userUC{
		users: users,
		tm:    tm,
		log:   &l,
	}
}

func (u *userUC) RegisterOrFetch(ctx context.Context, p model.TelegramProfile) (*model.User, bool, error) {
	defer logging.TraceDuration(u.log, "UserUC.RegisterOrFetch")()

	var (
		user  *model.User
		isNew bool
	)
	txOpts := pgx.TxOptions{IsoLevel: pgx.Serializable}
	err := u.tm.WithTx(ctx, txOpts, func(ctx context.Context, tx repository.Tx) error {
		existing, err := u.users.FindByTelegramID(ctx, tx, p.TelegramID)
		switch {
		case err == nil:
			existing.ApplyProfile(p)
			existing.Touch()
			if _, err := u.users.Update(ctx, tx, existing); err != nil {
				return err
			}
			user = existing
			return nil
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		nu, err := model.NewUser("", p, time.Now())
		if err != nil {
			return err
		}
		created, err := u.users.Create(ctx, tx, nu)
		if err != nil {
			return err
		}
		if !created {
			// lost a race with a concurrent registration
			user, err = u.users.FindByTelegramID(ctx, tx, p.TelegramID)
			return err
		}
		user, isNew = nu, true
		return nil
	})
	if err != nil {
		u.log.Error().Err(err).Int64("tg_id", p.TelegramID).Msg("register or fetch user failed")
		return nil, false, err
	}
	if isNew {
		metrics.IncUserRegistered()
		u.log.Info().Int64("tg_id", p.TelegramID).Msg("new user registered")
	}
	return user, isNew, nil
}

func (u *userUC) GetByTelegramID(ctx context.Context, tgID int64) (*model.User, error) {
	defer logging.TraceDuration(u.log, "UserUC.GetByTelegramID")()
	return u.users.FindByTelegramID(ctx, repository.NoTX, tgID)
}

// SetPreferences stores the defaults used for new edits. Empty fields keep
// the current value.
func (u *userUC) SetPreferences(ctx context.Context, tgID int64, prefs model.UserPreferences) (*model.User, error) {
	defer logging.TraceDuration(u.log, "UserUC.SetPreferences")()

	if prefs.AspectRatio != "" && !prefs.AspectRatio.Valid() {
		return nil, &domain.ValidationError{Field: "aspect_ratio", Reason: "unsupported value " + string(prefs.AspectRatio)}
	}
	if prefs.OutputFormat != "" && !prefs.OutputFormat.Valid() {
		return nil, &domain.ValidationError{Field: "output_format", Reason: "unsupported value " + string(prefs.OutputFormat)}
	}

	var user *model.User
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		usr, err := u.users.FindByTelegramID(ctx, tx, tgID)
		if err != nil {
			return err
		}
		if prefs.AspectRatio != "" {
			usr.Preferences.AspectRatio = prefs.AspectRatio
		}
		if prefs.OutputFormat != "" {
			usr.Preferences.OutputFormat = prefs.OutputFormat
		}
		if _, err := u.users.Update(ctx, tx, usr); err != nil {
			return err
		}
		user = usr
		return nil
	})
	return user, err
}

func (u *userUC) Count(ctx context.Context) (int, error) {
	defer logging.TraceDuration(u.log, "UserUC.Count")()
	return u.users.CountUsers(ctx, repository.NoTX)
}
