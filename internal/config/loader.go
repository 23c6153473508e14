package config

import (
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/twpayne/go-vfs"
)

// LoadEnvFile reads an InstallationConfig from a KEY=value env file
// via godotenv + mapstructure.
func LoadEnvFile(fs vfs.FS, path string) (InstallationConfig, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return InstallationConfig{}, err
	}
	env, err := godotenv.Unmarshal(string(data))
	if err != nil {
		return InstallationConfig{}, err
	}
	raw := map[string]any{}
	for k, v := range env {
		raw[k] = v
	}
	if ns, ok := raw["NET_ET_NAMESERVERS"].(string); ok {
		raw["NET_ET_NAMESERVERS"] = splitFields(ns)
	}
	var cfg InstallationConfig
	if err := mapstructure.Decode(raw, &cfg); err != nil {
		return InstallationConfig{}, err
	}
	return cfg.WithDefaults(), nil
}

// LoadYAML reads a TargetConfig from a YAML file via viper + mapstructure.
func LoadYAML(path string) (TargetConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return TargetConfig{}, err
	}
	var cfg TargetConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return TargetConfig{}, err
	}
	return cfg, nil
}

func splitFields(s string) []string {
	var out []string
	field := ""
	for _, r := range s {
		if r == ' ' || r == '\t' {
			if field != "" {
				out = append(out, field)
				field = ""
			}
			continue
		}
		field += string(r)
	}
	if field != "" {
		out = append(out, field)
	}
	return out
}
