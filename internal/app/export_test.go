package app

import "github.com/MrWong99/callagent/internal/config"

// OnConfigChange exposes the watcher callback to tests.
func (a *App) OnConfigChange(old, new *config.Config) { a.onConfigChange(old, new) }
