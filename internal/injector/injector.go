//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"context"

	"github.com/google/wire"

	"github.com/zeusync/crdtsync/internal/config"
	"github.com/zeusync/crdtsync/internal/core/sync/manager"
	"github.com/zeusync/crdtsync/internal/server"
)

func InitializeNode(ctx context.Context, cfg *config.Config) (*server.Node, func(), error) {
	wire.Build(NodeSet)
	return nil, nil, nil
}

func InitializeManager(ctx context.Context, cfg *config.Config) (*manager.Manager, func(), error) {
	wire.Build(BaseSet)
	return nil, nil, nil
}
