package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/grace/internal/api"
	"github.com/kalambet/grace/internal/capability"
	"github.com/kalambet/grace/internal/companion"
	"github.com/kalambet/grace/internal/config"
	"github.com/kalambet/grace/internal/engine"
	"github.com/kalambet/grace/internal/home"
	"github.com/kalambet/grace/internal/notify"
	"github.com/kalambet/grace/internal/oracle"
	"github.com/kalambet/grace/internal/pipeline"
	"github.com/kalambet/grace/internal/scheduler"
	"github.com/kalambet/grace/internal/source"
	"github.com/kalambet/grace/internal/storage"
)

// app is the wired service: the API dependencies and the scheduler that
// drives the configured monitors.
type app struct {
	deps      api.Deps
	scheduler *scheduler.Scheduler
}

func secretHint(key string) string {
	return fmt.Sprintf("Set %s or run: grace config set-secret %s <value>", config.EnvFor(key), key)
}

// wire builds every collaborator from cfg. Integrations without credentials
// are recorded as absent and their monitors are not scheduled.
func wire(cfg config.Config, eng engine.Engine, store *storage.Store, token string, logger *slog.Logger) *app {
	model := cfg.LLM.ModelFor(eng.Name())
	judge := oracle.NewLLM(eng, model, cfg.LLM.DecisionTimeout)

	sms := capability.Absent[notify.Sender]("Twilio SMS",
		"Set twilio.account_sid, twilio.from_number and notify.phone, and "+secretHint("twilio.api_key")+" (and twilio.api_secret)")
	tc := notify.TwilioConfig{
		AccountSID: cfg.Twilio.AccountSID,
		APIKey:     cfg.Twilio.APIKey,
		APISecret:  cfg.Twilio.APISecret,
		From:       cfg.Twilio.FromNumber,
		To:         cfg.Notify.Phone,
	}
	if tc.Configured() {
		sms = capability.Present[notify.Sender]("Twilio SMS", notify.NewTwilio(tc))
	}
	sink := notify.New(sms, notify.NewConsole(logger))

	opts := []pipeline.Option{
		pipeline.WithDecisionTimeout(cfg.LLM.DecisionTimeout),
		pipeline.WithLogger(logger),
	}
	sched := scheduler.New(logger)

	monitor := func(name, display string, configured bool, hint string, interval time.Duration, build func() source.Source, policy pipeline.Policy) api.MonitorEntry {
		if !configured {
			logger.Info("monitor not configured", "source", name)
			return api.MonitorEntry{Name: name, Monitor: capability.Absent[api.Runner](display, hint)}
		}
		m := pipeline.New(build(), store, judge, sink, policy, opts...)
		sched.Add(name, m, interval)
		return api.MonitorEntry{Name: name, Monitor: capability.Present[api.Runner](display, m), Interval: interval}
	}

	monitors := []api.MonitorEntry{
		monitor("email", "Gmail", cfg.Gmail.AccessToken != "", secretHint("gmail.access_token"), cfg.Schedule.Email,
			func() source.Source {
				return source.NewGmail(source.StaticToken(cfg.Gmail.AccessToken), cfg.Gmail.MaxResults)
			}, pipeline.EmailPolicy),
		monitor("calendar", "Google Calendar", cfg.Calendar.AccessToken != "", secretHint("calendar.access_token"), cfg.Schedule.Calendar,
			func() source.Source {
				return source.NewCalendar(source.StaticToken(cfg.Calendar.AccessToken), source.CalendarConfig{
					CalendarID: cfg.Calendar.CalendarID,
					Window:     cfg.Calendar.Window,
					MaxResults: cfg.Calendar.MaxResults,
				})
			}, pipeline.CalendarPolicy),
		monitor("wyze", "Wyze", cfg.Wyze.AccessToken != "" && cfg.Wyze.CameraMAC != "",
			"Set wyze.camera_mac and "+secretHint("wyze.access_token"), cfg.Schedule.Camera,
			func() source.Source {
				cams := []source.Camera{{Name: cfg.Wyze.CameraName, MAC: cfg.Wyze.CameraMAC}}
				return source.NewWyze(source.StaticToken(cfg.Wyze.AccessToken), cams, cfg.Wyze.Lookback)
			}, pipeline.CameraPolicy),
	}

	weather := capability.Absent[api.WeatherService]("Weather", secretHint("weather.api_key"))
	if cfg.Weather.APIKey != "" {
		weather = capability.Present[api.WeatherService]("Weather", home.NewWeather(cfg.Weather.APIKey, cfg.Weather.City))
	}

	lights := capability.Absent[api.LightService]("Smart lights", "Set "+config.EnvFor("lights.endpoint"))
	if cfg.Lights.Endpoint != "" {
		lights = capability.Present[api.LightService]("Smart lights", home.NewLights(cfg.Lights.Endpoint, cfg.Lights.APIKey))
	}

	return &app{
		deps: api.Deps{
			Store:     store,
			Monitors:  monitors,
			Simulate:  pipeline.New(source.NewSimulated(cfg.Wyze.CameraName), store, judge, sink, pipeline.CameraPolicy, opts...),
			Companion: companion.New(eng, model, store, cfg.LLM.ChatWindow),
			Weather:   weather,
			Lights:    lights,
			Token:     token,
			Logger:    logger,
		},
		scheduler: sched,
	}
}
