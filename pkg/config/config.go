package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// Load 读取配置到 out
//
// path 非空：只读这个文件，不存在就报错
// path 为空：按约定找 config/{name}.yaml 或 ./{name}.yaml，找不到就只用默认值 + 环境变量
//
// 环境变量覆盖，例如（name=dtf）：
//
//	DTF_BATCH_SIZE        覆盖 batch_size
//	DTF_UPLOAD_BUCKET-NAME 覆盖 upload.bucket-name
func Load(name, path string, defaults map[string]any, out any) (*viper.Viper, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(strings.ToUpper(name))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	} else {
		v.SetConfigName(name)
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return nil, err
			}
		}
	}

	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}
	return v, nil
}
