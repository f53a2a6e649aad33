package http

import (
	"github.com/Strob0t/ChainForge/internal/service"
)

// Handlers bundles the service dependencies for all HTTP endpoints.
type Handlers struct {
	Chains    *service.ChainService
	Agents    *service.AgentService
	Sessions  *service.SchedulerService
	Artifacts *service.ArtifactService
	Settings  *service.SettingsService
	Sandboxes *service.SandboxService
}
