package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath = "configs/config.yaml"
	EnvPath     = "CROSSBOT_CONFIG"
)

// 通过环境变量注入的密钥，优先级高于配置文件。
var envBindings = map[string]string{
	"binance.api_key":              "CROSSBOT_BINANCE_API_KEY",
	"binance.api_secret":           "CROSSBOT_BINANCE_API_SECRET",
	"telemetry.telegram.bot_token": "CROSSBOT_TELEGRAM_BOT_TOKEN",
}

// ResolvePath 按 flag > CROSSBOT_CONFIG > 默认路径 的顺序确定配置文件。
func ResolvePath(flagPath string) string {
	if p := strings.TrimSpace(flagPath); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(EnvPath)); p != "" {
		return p
	}
	return DefaultPath
}

func Load(path string) (*Config, error) {
	files, err := resolveConfigIncludes(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	for _, file := range files {
		if err := mergeConfigFile(v, file); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", file, err)
		}
	}
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults(explicitKeys(v))
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// configLayers 按 include 顺序展开配置文件：被 include 的文件先合并，自身最后覆盖。
type configLayers struct {
	order  []string
	done   map[string]bool
	active []string
}

func resolveConfigIncludes(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	root, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	layers := &configLayers{done: make(map[string]bool)}
	if err := layers.visit(root); err != nil {
		return nil, err
	}
	return layers.order, nil
}

func (c *configLayers) visit(path string) error {
	path = filepath.Clean(path)
	if slices.Contains(c.active, path) {
		chain := append(slices.Clone(c.active), path)
		return fmt.Errorf("include cycle detected: %s", strings.Join(chain, " -> "))
	}
	if c.done[path] {
		return nil
	}
	includes, err := readIncludes(path)
	if err != nil {
		return fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	c.active = append(c.active, path)
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := c.visit(inc); err != nil {
			return err
		}
	}
	c.active = c.active[:len(c.active)-1]
	c.done[path] = true
	c.order = append(c.order, path)
	return nil
}

// readIncludes 只解码文件头部的 include 列表，其余字段交给 viper。
func readIncludes(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var head struct {
		Include yaml.Node `yaml:"include"`
	}
	if err := yaml.Unmarshal(raw, &head); err != nil {
		return nil, err
	}
	if head.Include.Kind == 0 {
		return nil, nil
	}
	var list []string
	if err := head.Include.Decode(&list); err != nil {
		return nil, fmt.Errorf("include must be a string array")
	}
	out := list[:0]
	for _, item := range list {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out, nil
}

// explicitKeys 记录文件或环境变量中真正出现过的键，默认值只填补其余字段。
func explicitKeys(v *viper.Viper) keySet {
	keys := make(keySet)
	for _, key := range v.AllKeys() {
		if !v.IsSet(key) {
			continue
		}
		keys.mark(key)
		// optimize.short.start 之类的子键同时标记父级，range 默认值按父键判断。
		for i := strings.LastIndex(key, "."); i > 0; i = strings.LastIndex(key[:i], ".") {
			keys.mark(key[:i])
		}
	}
	return keys
}
