package service

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-practice/internal/config"
	"github.com/stemsi/exstem-practice/internal/model"
)

// SettingSource reads app_settings rows.
type SettingSource interface {
	GetByPrefix(ctx context.Context, prefix string) ([]model.AppSetting, error)
}

// PreferenceService resolves the global practice preferences: config
// defaults overlaid with practice.* rows from app_settings.
type PreferenceService struct {
	settings SettingSource
	defaults model.PracticePreferences
	log      zerolog.Logger
}

func NewPreferenceService(settings SettingSource, cfg *config.Config, log zerolog.Logger) *PreferenceService {
	return &PreferenceService{
		settings: settings,
		defaults: model.PracticePreferences{
			QuestionOrder:         model.QuestionOrder(cfg.QuestionOrder),
			DefaultMarksCorrect:   cfg.DefaultMarksCorrect,
			DefaultMarksIncorrect: cfg.DefaultMarksIncorrect,
			RevisionPerTopic:      cfg.RevisionPerTopic,
		},
		log: log.With().Str("component", "preference_service").Logger(),
	}
}

// Current returns the preferences in effect now. Malformed rows are logged
// and ignored.
func (s *PreferenceService) Current(ctx context.Context) (model.PracticePreferences, error) {
	prefs := s.defaults

	rows, err := s.settings.GetByPrefix(ctx, "practice.")
	if err != nil {
		s.log.Error().Err(err).Msg("failed to get practice settings")
		return prefs, err
	}

	for _, row := range rows {
		switch row.Key {
		case model.SettingQuestionOrder:
			switch order := model.QuestionOrder(row.Value); order {
			case model.OrderRandom, model.OrderAscending:
				prefs.QuestionOrder = order
			default:
				s.log.Warn().Str("key", row.Key).Str("value", row.Value).Msg("ignoring unknown question order")
			}
		case model.SettingDefaultMarksCorrect:
			if v, err := strconv.ParseFloat(row.Value, 64); err == nil {
				prefs.DefaultMarksCorrect = v
			} else {
				s.log.Warn().Str("key", row.Key).Str("value", row.Value).Msg("ignoring malformed setting")
			}
		case model.SettingDefaultMarksIncorrect:
			if v, err := strconv.ParseFloat(row.Value, 64); err == nil {
				prefs.DefaultMarksIncorrect = v
			} else {
				s.log.Warn().Str("key", row.Key).Str("value", row.Value).Msg("ignoring malformed setting")
			}
		case model.SettingRevisionPerTopic:
			if v, err := strconv.Atoi(row.Value); err == nil && v > 0 {
				prefs.RevisionPerTopic = v
			} else {
				s.log.Warn().Str("key", row.Key).Str("value", row.Value).Msg("ignoring malformed setting")
			}
		}
	}

	if prefs.QuestionOrder != model.OrderAscending {
		prefs.QuestionOrder = model.OrderRandom
	}
	return prefs, nil
}
