package api

import (
	"github.com/afumu/barlens/internal/monitor"
	"github.com/afumu/barlens/internal/offsets"
	"github.com/afumu/barlens/internal/snapshot"
	"github.com/afumu/barlens/internal/worker"
	"github.com/afumu/barlens/store"
	"github.com/afumu/barlens/web/export"
)

// Controller is the part of the worker the handlers drive.
type Controller interface {
	Status() worker.Status
	RequestRestart()
	Shutdown() <-chan struct{}
}

// API bundles the dependencies of the HTTP handlers. Store and Notifier
// may be nil when history or the webhook is disabled.
type API struct {
	Worker   Controller
	Board    *snapshot.Board
	Store    store.Store
	Export   *export.Service
	Offsets  *offsets.Holder
	Notifier *monitor.Notifier
	Password *PasswordManager
	Conf     *Config
}

type Config struct {
	OffsetsPath  string
	WebhookURL   string
	PasswordHash string
}

func NewAPI(w Controller, board *snapshot.Board, s store.Store, tables *offsets.Holder, n *monitor.Notifier, conf *Config) *API {
	a := &API{
		Worker:   w,
		Board:    board,
		Store:    s,
		Offsets:  tables,
		Notifier: n,
		Password: NewPasswordManager(conf.PasswordHash),
		Conf:     conf,
	}
	if s != nil {
		a.Export = &export.Service{Store: s}
	}
	return a
}
