package pipeline

import (
	"context"
	"time"

	"github.com/JaimeStill/pubsync/internal/config"
	"github.com/JaimeStill/pubsync/internal/ensure"
	"github.com/JaimeStill/pubsync/internal/outcome"
	"github.com/JaimeStill/pubsync/internal/upload"
	"github.com/JaimeStill/pubsync/pkg/storage"
)

// Host pins Workers build workers to one rendering host.
type Host struct {
	Name    string
	Workers int
}

// Options sizes the worker pools and configures their operations.
type Options struct {
	Hosts         []Host
	UploadWorkers int
	// RateLimit caps render requests per second to each host; zero is unlimited.
	RateLimit float64
	// DrainInterval is how long an idle upload worker sleeps while builds
	// may still enqueue work.
	DrainInterval time.Duration
	Ensure        ensure.Options
	Upload        upload.Options
}

// OptionsFrom maps finalized configuration onto Options.
func OptionsFrom(cfg *config.Config) Options {
	hosts := make([]Host, len(cfg.Ensure.Hosts))
	for i, h := range cfg.Ensure.Hosts {
		hosts[i] = Host{Name: h.Name, Workers: h.Workers}
	}
	return Options{
		Hosts:         hosts,
		UploadWorkers: cfg.Upload.Workers,
		RateLimit:     cfg.Ensure.RateLimit,
		DrainInterval: cfg.DrainIntervalDuration(),
		Ensure:        ensure.OptionsFrom(&cfg.Ensure, cfg.Paths.PSCacheRoot),
		Upload:        upload.OptionsFrom(&cfg.Upload),
	}
}

// StoreFactory opens a storage System for one upload worker.
type StoreFactory func(ctx context.Context) (storage.System, error)

// Observer receives every outcome as it is recorded.
type Observer interface {
	Observe(outcome.Record)
}
