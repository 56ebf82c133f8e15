package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"

	"gopkg.in/ini.v1"
	"nodeio_tester/internal/shared/types"
)

// LoadIni 加载 nodetester.ini 行为配置文件。
// 文件不存在时保留 cfg 中已有的默认值。
func LoadIni(cfg *types.Config, fileName string) error {
	if fileName != "" {
		if _, err := os.Stat(fileName); err == nil {
			iniFile, err := ini.Load(fileName)
			if err != nil {
				return err
			}
			if err := iniFile.MapTo(cfg); err != nil {
				return err
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	overrideFromEnvString(&cfg.CommonConf.URI, "NODETESTER_URI")
	overrideFromEnvInt(&cfg.CommonConf.Nodes, "NODETESTER_NODES")
	return nil
}

// LoadTemplate 加载样例消息模板 (samplenodemsg.json)。
func LoadTemplate(fileName string) (*types.Template, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		// 如果文件不存在，使用内置模板而不是报错
		if os.IsNotExist(err) {
			return types.DefaultTemplate(), nil
		}
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}

	tmpl := &types.Template{}
	if err := json.Unmarshal(data, tmpl); err != nil {
		return nil, fmt.Errorf("failed to unmarshal template: %w", err)
	}
	if len(tmpl.Sensors) == 0 {
		return nil, fmt.Errorf("template %s has no sensors", fileName)
	}
	if tmpl.Services == nil {
		tmpl.Services = types.DefaultTemplate().Services
	}
	return tmpl, nil
}

// ResolveURI 校验 websocket 地址，缺省端口时补全 (ws -> 80, wss -> 443)。
func ResolveURI(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid uri %q: %w", raw, err)
	}
	var defaultPort string
	switch u.Scheme {
	case "ws":
		defaultPort = "80"
	case "wss":
		defaultPort = "443"
	default:
		return "", fmt.Errorf("unsupported scheme %q, want ws or wss", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("uri %q has no host", raw)
	}
	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), defaultPort)
	}
	return u.String(), nil
}

func overrideFromEnvString(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}
