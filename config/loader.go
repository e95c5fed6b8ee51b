package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Option adjusts a Load call.
type Option func(*loader)

// WithConfigFile reads path instead of searching. A missing file is an error.
func WithConfigFile(path string) Option {
	return func(l *loader) { l.file = path }
}

// WithEnvFile loads path with godotenv instead of ./.env. A missing file is an
// error.
func WithEnvFile(path string) Option {
	return func(l *loader) { l.envFile = path }
}

// WithEnvPrefix replaces the upper-cased service name as environment prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *loader) { l.prefix = prefix }
}

type loader struct {
	service string
	file    string
	envFile string
	prefix  string
}

// searchPaths returns where a config file for service is looked for, in
// order.
func searchPaths(service string) []string {
	return []string{
		"config.yml",
		filepath.Join("cmd", service, "config.yml"),
		filepath.Join("config", "config.yml"),
		filepath.Join("/etc", service, "config.yml"),
	}
}

// Load fills cfg, a pointer to a struct with mapstructure tags, from in
// increasing precedence:
//
//  1. the config file, searched for when not given
//  2. config.<environment>.yml next to it, when present
//  3. the .env file, which never overrides variables already set
//  4. <PREFIX>_<KEY> environment variables, KEY being the dotted key with
//     dots as underscores: IMGFLOW_KAFKA_BROKERS sets kafka.brokers
func Load(service string, cfg any, opts ...Option) error {
	l := &loader{service: service, prefix: strings.ToUpper(strings.ReplaceAll(service, "-", "_"))}
	for _, opt := range opts {
		opt(l)
	}

	if err := l.loadEnvFile(); err != nil {
		return err
	}

	v := viper.New()
	v.SetEnvPrefix(l.prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range Keys(cfg) {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if err := l.readFiles(v); err != nil {
		return err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("decode %s config: %w", l.service, err)
	}
	return nil
}

func (l *loader) loadEnvFile() error {
	path, explicit := l.envFile, l.envFile != ""
	if !explicit {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err != nil && (explicit || !errors.Is(err, os.ErrNotExist)) {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func (l *loader) readFiles(v *viper.Viper) error {
	path := l.file
	if path == "" {
		for _, p := range searchPaths(l.service) {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
		if path == "" {
			return nil
		}
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	env := v.GetString("environment")
	overlay := overlayFile(path, strings.ToLower(env))
	if overlay == "" {
		return nil
	}
	if _, err := os.Stat(overlay); err != nil {
		return nil
	}
	v.SetConfigFile(overlay)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("merge config %s: %w", overlay, err)
	}
	return nil
}

// overlayFile maps config.yml to config.<env>.yml.
func overlayFile(base, env string) string {
	if env == "" {
		return ""
	}
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "." + env + ext
}

// Keys lists the dotted keys of every leaf field of cfg, following
// mapstructure tags. Squashed structs contribute their fields at the same
// level. Maps and slices are leaves.
func Keys(cfg any) []string {
	return appendKeys(nil, reflect.TypeOf(cfg), "")
}

func appendKeys(keys []string, t reflect.Type, prefix string) []string {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return keys
	}
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "-" {
			continue
		}
		if strings.Contains(opts, "squash") {
			keys = appendKeys(keys, f.Type, prefix)
			continue
		}
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}

		ft := f.Type
		for ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if ft.Kind() == reflect.Struct && ft.PkgPath() != "time" {
			keys = appendKeys(keys, ft, key)
			continue
		}
		keys = append(keys, key)
	}
	return keys
}
