package config

import (
	"log"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// LoadAndWatch reads config/{service}.yaml into out and keeps it hot-reloaded.
// extraPaths are searched before the defaults.
func LoadAndWatch(service string, out interface{}, extraPaths ...string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigName(service)
	v.SetConfigType("yaml")
	for _, p := range extraPaths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath("./config")
	v.AddConfigPath(".") // 兜底，直接放当前目录也行

	// 环境变量覆盖，例如：
	//   CHAT_SERVICE_HTTP_ADDR 覆盖 http.addr
	//   CHAT_SERVICE_AUTH_SECRET 覆盖 auth.secret
	v.SetEnvPrefix(EnvPrefix(service))
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}

	log.Printf("[%s] config loaded from %s", service, v.ConfigFileUsed())

	// 监听文件变更，热更新到 out
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Printf("[%s] config file changed: %s", service, e.Name)

		if err := v.Unmarshal(out); err != nil {
			log.Printf("[%s] reload config error: %v", service, err)
			return
		}
		log.Printf("[%s] config reloaded OK", service)
	})

	return v, nil
}

// EnvPrefix turns "chat-service" into "CHAT_SERVICE".
func EnvPrefix(service string) string {
	return strings.ToUpper(strings.ReplaceAll(service, "-", "_"))
}
