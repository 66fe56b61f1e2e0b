package endpoints

import (
	"github.com/jackzampolin/quill/internal/api"
)

// All returns all endpoint instances.
func All() []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&StatusEndpoint{},

		// Pipeline endpoints
		&IngestEndpoint{},
		&RunEndpoint{},

		// Project views
		&ListDocumentsEndpoint{},
		&ListIssuesEndpoint{},
		&UpdateIssueEndpoint{},
		&ListMetricsEndpoint{},
		&ListEventsEndpoint{},

		// Docs
		&SwaggerEndpoint{},
	}
}
