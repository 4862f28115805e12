package service_interface

import (
	"github.com/ArkLabsHQ/deadman/internal/core/application"
	"github.com/ArkLabsHQ/deadman/internal/interface/web"
)

type Service interface {
	Start() error
	Stop()
}

// NewService returns the read-only http api over the watched stashes.
func NewService(svc *application.Service, port uint32) (Service, error) {
	return web.NewService(svc, svc.BuildInfo, port), nil
}
