package transform

import (
	_ "embed"
	"fmt"

	"github.com/BurntSushi/toml"
)

//go:embed presets.toml
var presetsTOML []byte

// Preset describes a known provider's default endpoint and transform pair.
type Preset struct {
	Endpoint    string  `toml:"endpoint"`
	PreProcess  string  `toml:"pre_process"`
	PostProcess string  `toml:"post_process"`
	ScoreMin    float64 `toml:"score_min"`
	ScoreMax    float64 `toml:"score_max"`
}

type presetFile struct {
	Presets map[string]Preset `toml:"presets"`
}

// Presets returns the embedded provider preset table keyed by provider
// name.
func Presets() (map[string]Preset, error) {
	var pf presetFile
	if err := toml.Unmarshal(presetsTOML, &pf); err != nil {
		return nil, fmt.Errorf("parsing embedded presets: %w", err)
	}
	return pf.Presets, nil
}
