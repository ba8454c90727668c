package app

import (
	"github.com/mholloway/tideline/pkg/cache"
	"github.com/mholloway/tideline/pkg/config"
)

// App is the composition root: configuration, the shared cache store,
// the coalescing snapshot writer, and the page fetcher. One instance
// per running process; sessions hang off it, one per open feed view.
type App struct {
	Config  config.Config
	Store   Cache
	Writer  *cache.Writer
	Fetcher Fetcher
}

func NewApp() (App, error) {
	config, err := config.New()
	if err != nil {
		return App{}, err
	}

	store, err := cache.New(config)
	if err != nil {
		return App{}, err
	}

	return App{
		Config:  config,
		Store:   store,
		Writer:  cache.NewWriter(store),
		Fetcher: NewPageFetcher(config),
	}, nil
}

func (a App) Close() {
	a.Writer.Close()
	a.Store.Close()
}
