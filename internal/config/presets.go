package config

import "sort"

var Presets = map[string]map[string]func() *Config{
	"cylinder3d": {
		"default": DefaultConfig,
		"quick": func() *Config {
			cfg := DefaultConfig()
			cfg.Geometry.NPoints = [3]int{50, 20, 3}
			cfg.Global.Epochs = 200
			cfg.Model.NumLayers = 5
			cfg.Model.HiddenSize = 20
			cfg.Time.NumTimeSteps = 3
			return cfg
		},
		"smoke": func() *Config {
			cfg := DefaultConfig()
			cfg.Geometry.NPoints = [3]int{12, 6, 3}
			cfg.Global.Epochs = 5
			cfg.Model.NumLayers = 3
			cfg.Model.HiddenSize = 8
			cfg.Time.NumTimeSteps = 1
			return cfg
		},
	},
}

// GetPreset returns a fresh copy of the named preset, or nil.
func GetPreset(problem, preset string) *Config {
	problemPresets, ok := Presets[problem]
	if !ok {
		return nil
	}
	build, ok := problemPresets[preset]
	if !ok {
		return nil
	}
	return build()
}

func ListPresets(problem string) []string {
	problemPresets, ok := Presets[problem]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(problemPresets))
	for name := range problemPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func ListProblems() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
