package modelclient

import (
	"fmt"

	"github.com/petal-labs/iris/providers"
	// Auto-register common providers.
	_ "github.com/petal-labs/iris/providers/anthropic"
	_ "github.com/petal-labs/iris/providers/ollama"
	_ "github.com/petal-labs/iris/providers/openai"

	"github.com/fable-labs/fableflow/config"
	"github.com/fable-labs/fableflow/core"
)

// NewClient creates a core.ModelClient for the named provider using the
// given config. It delegates to the iris provider registry to instantiate
// the underlying provider.
func NewClient(name string, cfg config.Provider) (core.ModelClient, error) {
	provider, err := providers.Create(name, cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("creating provider %q: %w", name, err)
	}
	return &irisClient{provider: provider}, nil
}
