//go:build wireinject
// +build wireinject

package wire

import (
	"github.com/google/wire"
)

func InitializeApplication() (*Application, func(), error) {
	wire.Build(ProviderSet)
	return &Application{}, nil, nil
}
