package mapstruct

import (
	"github.com/go-viper/mapstructure/v2"
)

// Decode decodes input (usually a map[string]any from yaml) into output,
// matching fields by their json tag. Durations may be given as "10s".
func Decode(input any, output any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           output,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}
