package configutil

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// DecodeSettings decodes a free-form provider settings map into a typed
// struct. Durations may be given as strings ("160ms") and keys are matched
// case, underscore and hyphen insensitively.
func DecodeSettings(input map[string]any, out any) error {
	if len(input) == 0 {
		return nil
	}
	cfg := &mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		MatchName: func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		},
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return err
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	return nil
}

// RequireString ensures a value is present for a required config field.
func RequireString(value, path string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", path)
	}
	return nil
}

// FirstNonEmpty returns value when set, otherwise the first non-empty
// environment variable among envKeys. Used for API keys that may live in
// the config file or the environment.
func FirstNonEmpty(value string, envKeys ...string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	for _, k := range envKeys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func normalizeKey(value string) string {
	value = strings.ToLower(value)
	value = strings.ReplaceAll(value, "_", "")
	value = strings.ReplaceAll(value, "-", "")
	return value
}
