package conf

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const envPrefix = "THERMAL_"

// SetupConfig 加载配置文件，文件不存在时写入默认配置
// 支持 toml 与 yaml，同目录下的 .env 与环境变量会覆盖文件中的同名项
func SetupConfig(path string) (*Bootstrap, error) {
	bc := DefaultConfig()
	bc.ConfigPath = path

	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := WriteConfig(&bc, path); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if err := decode(path, b, &bc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := applyEnv(&bc); err != nil {
		return nil, err
	}
	return &bc, nil
}

// WriteConfig 将配置写回文件
func WriteConfig(bc *Bootstrap, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var (
		b   []byte
		err error
	)
	if isYAML(path) {
		b, err = yaml.Marshal(bc)
	} else {
		b, err = toml.Marshal(bc)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func decode(path string, b []byte, bc *Bootstrap) error {
	if isYAML(path) {
		return yaml.Unmarshal(b, bc)
	}
	return toml.Unmarshal(b, bc)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// applyEnv 环境变量覆盖，便于容器部署
func applyEnv(bc *Bootstrap) error {
	if v := os.Getenv(envPrefix + "DSN"); v != "" {
		bc.Data.Database.Dsn = v
	}
	if v := os.Getenv(envPrefix + "HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sHTTP_PORT: %w", envPrefix, err)
		}
		bc.Server.HTTP.Port = port
	}
	if v := os.Getenv(envPrefix + "DETECT_ADDR"); v != "" {
		bc.Detect.Addr = v
	}
	if v := os.Getenv(envPrefix + "MQTT_BROKER"); v != "" {
		bc.MQTT.Broker = v
	}
	if v := os.Getenv(envPrefix + "MQTT_USERNAME"); v != "" {
		bc.MQTT.Username = v
	}
	if v := os.Getenv(envPrefix + "MQTT_PASSWORD"); v != "" {
		bc.MQTT.Password = v
	}
	if v := os.Getenv(envPrefix + "RECORDING_DIR"); v != "" {
		bc.Recording.StorageDir = v
	}
	return nil
}
