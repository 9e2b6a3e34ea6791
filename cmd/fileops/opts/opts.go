package opts

import (
	"github.com/proview/fileops/pkg/config"
	"github.com/proview/fileops/pkg/engine"
	"github.com/proview/fileops/pkg/log"
)

// RootOpts contains shared dependencies used by all commands.
type RootOpts struct {
	Config     *config.Config
	Engine     *engine.Engine
	UserLogger *log.Logger
}
