package secrets

import "github.com/Strob0t/toolgate/internal/config"

// ConfigLoader returns a Loader that re-reads the layered configuration and
// extracts the route secrets. Empty values are omitted.
func ConfigLoader(load func() (*config.Config, error)) Loader {
	return func() (map[string]string, error) {
		cfg, err := load()
		if err != nil {
			return nil, err
		}
		vals := make(map[string]string, 2)
		if cfg.Server.AdminKey != "" {
			vals[AdminKey] = cfg.Server.AdminKey
		}
		if cfg.Server.WebhookSecret != "" {
			vals[WebhookSecret] = cfg.Server.WebhookSecret
		}
		return vals, nil
	}
}
