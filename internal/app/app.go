// Package app wires the profile and chat services from their backing
// stores. cmd/api, cmd/worker and cmd/chatctl share it.
package app

import (
	"time"

	jww "github.com/spf13/jwalterweatherman"
	"gorm.io/gorm"

	"github.com/suPer8Hu/testerhub/internal/chat"
	"github.com/suPer8Hu/testerhub/internal/config"
	"github.com/suPer8Hu/testerhub/internal/profile"
	"github.com/suPer8Hu/testerhub/internal/realtime"
)

type Deps struct {
	DB     *gorm.DB
	Broker realtime.Broker
	// Cache may be nil.
	Cache profile.Cache
	// Jobs is required for RECONCILE_MODE=queue.
	Jobs chat.JobPublisher
}

type App struct {
	Profiles   *profile.Service
	Lookup     *profile.Lookup
	ChatRepo   *chat.Repo
	Chat       *chat.Service
	Reconciler *chat.Reconciler
	Auditor    chat.Auditor
}

func New(cfg config.Config, d Deps) *App {
	if d.Broker == nil {
		d.Broker = realtime.NewHub()
	}

	profileRepo := profile.NewRepo(d.DB)
	lookup := profile.NewLookup(profileRepo, d.Cache, time.Duration(cfg.ProfileCacheTTLSeconds)*time.Second)

	chatRepo := chat.NewRepo(d.DB)
	reconciler := chat.NewReconciler(chatRepo, d.Broker, lookup)

	var auditor chat.Auditor
	switch {
	case cfg.ReconcileMode == "queue" && d.Jobs != nil:
		auditor = chat.NewQueueAuditor(chatRepo, d.Jobs)
	case cfg.ReconcileMode == "queue":
		jww.WARN.Printf("[app] RECONCILE_MODE=queue without a job publisher, repairing inline")
		auditor = chat.NewInlineAuditor(reconciler)
	case cfg.ReconcileMode == "off":
		auditor = chat.LogAuditor{}
	default:
		auditor = chat.NewInlineAuditor(reconciler)
	}

	exec := chat.NewGormExecutor(d.DB, d.Broker, auditor)
	chatSvc := chat.NewService(chatRepo, exec, d.Broker, lookup, chat.Options{
		RecentLimit: cfg.ChatRecentLimit,
		Auditor:     auditor,
	})

	return &App{
		Profiles:   profile.NewService(profileRepo, lookup),
		Lookup:     lookup,
		ChatRepo:   chatRepo,
		Chat:       chatSvc,
		Reconciler: reconciler,
		Auditor:    auditor,
	}
}
