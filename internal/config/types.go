package config

import "regexp"

// Config is the top-level configuration parsed from the YAML config file.
// Zero values mean "not set"; flags and environment variables win over any
// value given here.
type Config struct {
	Dir        string        `yaml:"dir"        json:"dir"`
	IndexPath  string        `yaml:"indexPath"  json:"indexPath"`
	ListenAddr string        `yaml:"listenAddr" json:"listenAddr"`
	Verbose    *bool         `yaml:"verbose"    json:"verbose"`
	Proxy      []ProxyConfig `yaml:"proxy"      json:"proxy"`
	Build      BuildConfig   `yaml:"build"      json:"build"`
}

// ProxyConfig forwards requests whose pathname matches Pattern to Host.
type ProxyConfig struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Host    string `yaml:"host"    json:"host"`
	Port    int    `yaml:"port"    json:"port"`
	HTTPS   bool   `yaml:"https"   json:"https"`

	re *regexp.Regexp
}

// Regexp returns the compiled pattern. It is set for every entry Load keeps.
func (p ProxyConfig) Regexp() *regexp.Regexp {
	return p.re
}

// BuildConfig configures the bundler integrations.
type BuildConfig struct {
	EntryPoints []string `yaml:"entryPoints" json:"entryPoints"`
	Outdir      string   `yaml:"outdir"      json:"outdir"`
	WatchDir    string   `yaml:"watchDir"    json:"watchDir"`
}
