package provider

import (
	"go.uber.org/zap"

	"github.com/sells-group/cbdata/internal/config"
	"github.com/sells-group/cbdata/internal/fetcher"
)

// FromConfig builds the provider set for the configured sources. Sources
// with an unknown ID are skipped with a warning.
func FromConfig(cfg *config.Config, f fetcher.Fetcher) *Set {
	var providers []Provider
	for _, sc := range cfg.Sources {
		switch sc.ID {
		case "jsl":
			providers = append(providers, NewJSL(f, sc.BaseURL, LoadCookie(cfg.JSL)))
		case "eastmoney":
			providers = append(providers, NewEastmoney(f, sc.BaseURL))
		case "sina":
			providers = append(providers, NewSina(f, sc.BaseURL))
		case "tencent":
			providers = append(providers, NewTencent(f, sc.BaseURL))
		default:
			zap.L().Warn("no provider implementation for source",
				zap.String("component", "provider"),
				zap.String("source", sc.ID),
			)
		}
	}
	return NewSet(providers...)
}
