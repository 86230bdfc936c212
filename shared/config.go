package shared

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const Version = "0.3.1"

// AppConfig is the process configuration, read from the environment and an
// optional .env file.
type AppConfig struct {
	GeminiAPIKey  string `mapstructure:"gemini_api_key" validate:"required"`
	OpenAIAPIKey  string `mapstructure:"openai_api_key" validate:"required_if=JudgeProvider openai"`
	JudgeProvider string `mapstructure:"judge_provider" validate:"required,oneof=gemini openai"`
	JudgeModel    string `mapstructure:"judge_model" validate:"required"`
	LiveModel     string `mapstructure:"live_model" validate:"required"`
	LiveBaseURL   string `mapstructure:"live_base_url" validate:"required,url"`
	LiveEnabled   bool   `mapstructure:"live_enabled"`

	FrameIntervalSeconds int `mapstructure:"frame_interval_seconds" validate:"min=2,max=3"`

	SettingsPath string `mapstructure:"settings_path" validate:"required"`
	LogFile      string `mapstructure:"log_file" validate:"required"`
	LogLevel     string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

func (c *AppConfig) FrameInterval() time.Duration {
	return time.Duration(c.FrameIntervalSeconds) * time.Second
}

// InitConfig builds the viper instance. A missing .env file is not an error;
// the environment alone is enough.
func InitConfig() (*viper.Viper, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("__"))
	v.AddConfigPath(".")
	v.SetConfigName(".env")
	v.SetConfigType("env")
	if path := os.Getenv("ENV_PATH"); path != "" {
		v.SetConfigFile(path)
	}
	v.AutomaticEnv()
	setDefault(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return v, nil
}

func setDefault(v *viper.Viper) {
	v.SetDefault("GEMINI_API_KEY", "")
	v.SetDefault("OPENAI_API_KEY", "")
	v.SetDefault("JUDGE_PROVIDER", "gemini")
	v.SetDefault("JUDGE_MODEL", "gemini-3-flash-preview")
	v.SetDefault("LIVE_MODEL", "gemini-2.5-flash-native-audio-preview-09-2025")
	v.SetDefault("LIVE_BASE_URL", "wss://generativelanguage.googleapis.com")
	v.SetDefault("LIVE_ENABLED", true)
	v.SetDefault("FRAME_INTERVAL_SECONDS", 3)
	v.SetDefault("SETTINGS_PATH", "worldsend.db")
	v.SetDefault("LOG_FILE", "cli/cli.log")
	v.SetDefault("LOG_LEVEL", "debug")
}

func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	if v == nil {
		return nil, ErrNoConfig
	}
	var config AppConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := validator.New().Struct(&config); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &config, nil
}
