package access

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Manifest is the persisted record of one run: the parameters it was given
// and every artifact it produced, for downstream aggregation and auditing.
type Manifest struct {
	GeneratedAt     time.Time `yaml:"generated_at"`
	PopulationPath  string    `yaml:"population_path"`
	LULCPath        string    `yaml:"lulc_path"`
	SearchDistance  float64   `yaml:"search_distance"`
	DecayFamily     string    `yaml:"decay_function"`
	NormalizeKernel bool      `yaml:"normalize_kernel"`
	SupplyMap       map[int]float64 `yaml:"land_cover_to_supply_map"`
	Artifacts       Result    `yaml:"artifacts"`
}

func writeManifest(outputDir string, args Args, res *Result) (string, error) {
	name := "manifest.yaml"
	if args.ResultsSuffix != "" {
		name = fmt.Sprintf("manifest_%s.yaml", args.ResultsSuffix)
	}
	path := filepath.Join(outputDir, name)

	m := Manifest{
		GeneratedAt:     time.Now().UTC(),
		PopulationPath:  args.PopulationPath,
		LULCPath:        args.LULCPath,
		SearchDistance:  args.SearchDistance,
		DecayFamily:     args.DecayFamily.String(),
		NormalizeKernel: args.NormalizeKernel,
		SupplyMap:       args.SupplyMap,
		Artifacts:       *res,
	}
	b, err := yaml.Marshal(m)
	if err != nil {
		return "", eris.Wrap(err, "access: marshal manifest")
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return "", eris.Wrapf(err, "access: write manifest %s", path)
	}
	return path, nil
}

// LoadManifest reads a run manifest written by Execute.
func LoadManifest(path string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "access: read manifest %s", path)
	}
	var m Manifest
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, eris.Wrapf(err, "access: parse manifest %s", path)
	}
	return &m, nil
}
