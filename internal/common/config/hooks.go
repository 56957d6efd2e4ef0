package config

import (
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/testweb/testweb/internal/testweb/domain"
)

// CustomHooks keeps viper's default string conversions and adds the domain specific ones.
var CustomHooks = []viper.DecoderConfigOption{
	viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		TestTypeDecodeHook(),
	)),
}

// TestTypeDecodeHook rejects unknown test types, including when they are used as map keys.
func TestTypeDecodeHook() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(domain.TestType("")) {
			return data, nil
		}
		return domain.ParseTestType(data.(string))
	}
}
