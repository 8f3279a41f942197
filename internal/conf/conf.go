// Package conf holds build information and the profile configuration read
// from $HOME/.cryptgen/config.
package conf

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Set with -ldflags at build time.
var (
	Version     = "dev"
	VersionLong = "dev"
	BuildTime   = "unknown"
)

const (
	DirName        = ".cryptgen"
	FileName       = "config"
	EnvPrefix      = "CRYPTGEN"
	DefaultProfile = "default"
)

var ErrUnknownProfile = errors.New("unknown profile")

type Config struct {
	Profiles map[string]Profile `yaml:"profiles" toml:"profiles"`
}

type Profile struct {
	WidevineURL           string `yaml:"widevineurl,omitempty" toml:"widevineurl,omitempty"`
	WidevineProvider      string `yaml:"widevineprovider,omitempty" toml:"widevineprovider,omitempty"`
	WidevineSigningKey    string `yaml:"widevinesigningkey,omitempty" toml:"widevinesigningkey,omitempty"`
	WidevineSigningIV     string `yaml:"widevinesigningiv,omitempty" toml:"widevinesigningiv,omitempty"`
	DRMTodayURL           string `yaml:"drmtodayurl,omitempty" toml:"drmtodayurl,omitempty"`
	Merchant              string `yaml:"merchant,omitempty" toml:"merchant,omitempty"`
	ClientID              string `yaml:"clientid,omitempty" toml:"clientid,omitempty"`
	ClientSecret          string `yaml:"clientsecret,omitempty" toml:"clientsecret,omitempty"`
	TokenURL              string `yaml:"tokenurl,omitempty" toml:"tokenurl,omitempty"`
	OidcDiscoveryEndpoint string `yaml:"oidcdiscoveryendpoint,omitempty" toml:"oidcdiscoveryendpoint,omitempty"`
	JWTSecret             string `yaml:"jwtsecret,omitempty" toml:"jwtsecret,omitempty"`
	KeyStoreURL           string `yaml:"keystoreurl,omitempty" toml:"keystoreurl,omitempty"`
	KeyStorePassphrase    string `yaml:"keystorepassphrase,omitempty" toml:"keystorepassphrase,omitempty"`
	PlayReadyLicenseURL   string `yaml:"playreadylicenseurl,omitempty" toml:"playreadylicenseurl,omitempty"`
}

// settings maps the flat environment keys to the profile fields they override.
func (p *Profile) settings() map[string]*string {
	return map[string]*string{
		"widevineurl":           &p.WidevineURL,
		"widevineprovider":      &p.WidevineProvider,
		"widevinesigningkey":    &p.WidevineSigningKey,
		"widevinesigningiv":     &p.WidevineSigningIV,
		"drmtodayurl":           &p.DRMTodayURL,
		"merchant":              &p.Merchant,
		"clientid":              &p.ClientID,
		"clientsecret":          &p.ClientSecret,
		"tokenurl":              &p.TokenURL,
		"oidcdiscoveryendpoint": &p.OidcDiscoveryEndpoint,
		"jwtsecret":             &p.JWTSecret,
		"keystoreurl":           &p.KeyStoreURL,
		"keystorepassphrase":    &p.KeyStorePassphrase,
		"playreadylicenseurl":   &p.PlayReadyLicenseURL,
	}
}

// SigningKey decodes the base64 Widevine signing key and IV.
func (p Profile) SigningKey() (key, iv []byte, err error) {
	if p.WidevineSigningKey == "" && p.WidevineSigningIV == "" {
		return nil, nil, nil
	}
	if key, err = base64.StdEncoding.DecodeString(p.WidevineSigningKey); err != nil {
		return nil, nil, fmt.Errorf("widevine signing key: %w", err)
	}
	if iv, err = base64.StdEncoding.DecodeString(p.WidevineSigningIV); err != nil {
		return nil, nil, fmt.Errorf("widevine signing iv: %w", err)
	}
	return key, iv, nil
}

// Dir returns $HOME/.cryptgen.
func Dir() (string, error) {
	homedir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("can't read homedir: %w", err)
	}
	return filepath.Join(homedir, DirName), nil
}

// Load reads the config file into v. An empty path searches $HOME/.cryptgen
// and ./.cryptgen. Environment variables prefixed with CRYPTGEN_ are enabled
// whether or not a file is found.
func Load(v *viper.Viper, path string) error {
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		if dir, err := Dir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(DirName)
		v.SetConfigName(FileName)
	}
	return v.ReadInConfig()
}

// ProfileFrom returns the named profile with environment overrides applied.
// A missing profile is only an error when something other than the default
// was asked for.
func ProfileFrom(v *viper.Viper, name string) (Profile, error) {
	if name == "" {
		name = DefaultProfile
	}
	var p Profile
	key := "profiles." + name
	if v.IsSet(key) {
		if err := v.UnmarshalKey(key, &p); err != nil {
			return Profile{}, fmt.Errorf("could not read profile %q: %w", name, err)
		}
	} else if name != DefaultProfile {
		return Profile{}, fmt.Errorf("%w: %s", ErrUnknownProfile, name)
	}
	for k, dst := range p.settings() {
		if s := os.Getenv(EnvPrefix + "_" + strings.ToUpper(k)); s != "" {
			*dst = s
		}
	}
	return p, nil
}

// Save merges the profile into v and writes the result to path, creating
// the directory if needed.
func Save(v *viper.Viper, name string, p Profile, path string) error {
	if name == "" {
		name = DefaultProfile
	}
	config := Config{Profiles: map[string]Profile{name: p}}
	yamlConfig, err := yaml.Marshal(&config)
	if err != nil {
		return fmt.Errorf("could not marshal configuration: %w", err)
	}
	v.SetConfigType("yaml")
	if err := v.MergeConfig(bytes.NewReader(yamlConfig)); err != nil {
		return fmt.Errorf("could not merge existing configuration: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("could not save configuration: %w", err)
	}
	return nil
}

// Export renders the configuration held by v as yaml or toml.
func Export(v *viper.Viper, format string) ([]byte, error) {
	var config Config
	profiles := v.GetStringMap("profiles")
	config.Profiles = make(map[string]Profile, len(profiles))
	for name := range profiles {
		var p Profile
		if err := v.UnmarshalKey("profiles."+name, &p); err != nil {
			return nil, fmt.Errorf("could not read profile %q: %w", name, err)
		}
		config.Profiles[name] = p
	}
	switch strings.ToLower(format) {
	case "", "yaml", "yml":
		return yaml.Marshal(&config)
	case "toml":
		return toml.Marshal(&config)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// SigningProperties are the Widevine key server settings of a properties
// file with url, key, iv and provider entries. Key and iv are base64.
type SigningProperties struct {
	URL      string
	Key      []byte
	IV       []byte
	Provider string
}

// LoadSigningProperties reads a Java style properties file.
func LoadSigningProperties(path string) (SigningProperties, error) {
	v := viper.New()
	v.SetConfigType("properties")
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return SigningProperties{}, fmt.Errorf("could not read %s: %w", path, err)
	}
	props := SigningProperties{
		URL:      v.GetString("url"),
		Provider: v.GetString("provider"),
	}
	for _, k := range []string{"url", "key", "iv", "provider"} {
		if v.GetString(k) == "" {
			return SigningProperties{}, fmt.Errorf("%s: missing %q", path, k)
		}
	}
	var err error
	if props.Key, err = base64.StdEncoding.DecodeString(v.GetString("key")); err != nil {
		return SigningProperties{}, fmt.Errorf("%s: key: %w", path, err)
	}
	if props.IV, err = base64.StdEncoding.DecodeString(v.GetString("iv")); err != nil {
		return SigningProperties{}, fmt.Errorf("%s: iv: %w", path, err)
	}
	if len(props.Key) != 32 || len(props.IV) != 16 {
		return SigningProperties{}, fmt.Errorf("%s: key must be 32 bytes and iv 16 bytes, got %d and %d", path, len(props.Key), len(props.IV))
	}
	return props, nil
}
