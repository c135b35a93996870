package config

import "reflect"

// structToMap flattens a Config's mapstructure-tagged fields into a
// key->value map so each can be registered as a viper default. Viper's own
// SetDefault doesn't walk structs, so defaults must be seeded field by
// field before ReadInConfig/Unmarshal run.
// StructToMap exposes structToMap for callers outside the package (the
// config CLI subcommand, which reconstructs a viper.Viper to rewrite
// config.yaml in place).
func StructToMap(cfg Config) map[string]interface{} {
	return structToMap(cfg)
}

func structToMap(cfg Config) map[string]interface{} {
	out := make(map[string]interface{})
	v := reflect.ValueOf(cfg)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			continue
		}
		out[tag] = v.Field(i).Interface()
	}
	return out
}
