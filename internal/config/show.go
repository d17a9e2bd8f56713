package config

import (
	"maps"
	"net/url"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"
)

const maskedValue = "********"

// dsnPassword matches the password of a key=value connection string.
var dsnPassword = regexp.MustCompile(`(?i)(password=)(\S+)`)

// Masked returns a copy of the configuration with credentials hidden.
func (c *Config) Masked() *Config {
	m := *c
	m.Repos.Mapping = maps.Clone(c.Repos.Mapping)
	m.Repos.Exclude = slices.Clone(c.Repos.Exclude)

	m.GitHub.Token = mask(c.GitHub.Token)
	m.GitHub.WebhookSecret = mask(c.GitHub.WebhookSecret)
	m.ADO.PAT = mask(c.ADO.PAT)
	m.GitLab.Token = mask(c.GitLab.Token)
	m.Database.DSN = redactDSN(c.Database.DSN)
	return &m
}

// YAML renders the masked configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c.Masked())
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return maskedValue
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.User != nil {
		return u.Redacted()
	}
	return dsnPassword.ReplaceAllString(dsn, "${1}"+maskedValue)
}
