package pacchetto

import (
	"bytes"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

var allowedHeaders = map[string]struct{}{
	"Accept": {}, "Authorization": {}, "Content-Type": {}, "X-CSRF-Token": {}, "X-Request-ID": {},
}

// NewValidator returns a validator with the custom tags used by the settings
// structs registered.
func NewValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterValidation("baseheader", func(fl validator.FieldLevel) bool {
		header := fl.Field().String()
		_, ok := allowedHeaders[header]
		return ok
	})
	return validate
}

// LoadConfig reads the embedded yaml, applies env overrides prefixed with
// envPrefix (PREFIX_SECTION_KEY, dashes dropped) and validates the result.
func LoadConfig[T any](envPrefix string, baseConfig []byte) (*T, error) {
	var cfg *T

	v := viper.New()
	v.SetConfigType("yaml")
	err := v.ReadConfig(bytes.NewReader(baseConfig))
	if err != nil {
		slog.Error("failed to read config from yaml", slog.Any("err", err))
		return nil, err
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", ""))
	v.AutomaticEnv()

	err = v.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	if err := NewValidator().Struct(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
