package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/lalithlochan/pulse/internal/ordersync"
)

type realmsFile struct {
	Realms []ordersync.Realm `mapstructure:"realms"`
}

// LoadRealms reads the realm list from a YAML file, then applies
// REALM_<KEY>_<FIELD> environment overrides. REALM_KEYS adds realms that
// are configured only through the environment. An empty path reads the
// environment alone.
func LoadRealms(path string) ([]ordersync.Realm, error) {
	var file realmsFile

	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading realms %s: %w", path, err)
		}
		if err := v.Unmarshal(&file); err != nil {
			return nil, fmt.Errorf("parsing realms %s: %w", path, err)
		}
	}

	env := viper.New()
	env.AutomaticEnv()

	realms := file.Realms
	known := make(map[string]bool, len(realms))
	for i, r := range realms {
		if strings.TrimSpace(r.Key) == "" {
			return nil, &ConfigurationError{Key: fmt.Sprintf("realms[%d].key", i), Reason: "is required"}
		}
		if known[r.Key] {
			return nil, &ConfigurationError{Key: "realms", Reason: fmt.Sprintf("duplicate realm %q", r.Key)}
		}
		known[r.Key] = true
	}

	for _, key := range splitList(env.GetString("REALM_KEYS")) {
		if !known[key] {
			realms = append(realms, ordersync.Realm{Key: key})
			known[key] = true
		}
	}

	for i := range realms {
		applyRealmEnv(env, &realms[i])
	}

	return realms, nil
}

func applyRealmEnv(env *viper.Viper, r *ordersync.Realm) {
	prefix := "REALM_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(r.Key)) + "_"

	fields := []struct {
		name string
		dst  *string
	}{
		{"BASE_URL", &r.BaseURL},
		{"SITE_ID", &r.SiteID},
		{"CLIENT_ID", &r.ClientID},
		{"CLIENT_SECRET", &r.ClientSecret},
		{"TOKEN_URL", &r.TokenURL},
		{"API_VERSION", &r.APIVersion},
	}
	for _, f := range fields {
		if v := env.GetString(prefix + f.name); v != "" {
			*f.dst = v
		}
	}
}
