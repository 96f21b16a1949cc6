package dtsgen_test

import (
	"os"
	"strings"
	"testing"

	"github.com/goccy/go-yaml"

	"github.com/hostedat/jswit/internal/codegen/dtsgen"
	"github.com/hostedat/jswit/internal/wit"
)

// fixture describes one world → expected-.d.ts-substrings test case, loaded
// from testdata/*.yaml in the style jtarchie-ci drives its pipeline tests
// off YAML fixtures rather than inline Go literals.
type fixture struct {
	World    string   `yaml:"world"`
	WitFile  string   `yaml:"wit_file"`
	Contains []string `yaml:"contains"`
}

func loadFixtures(t *testing.T, path string) []fixture {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading fixture file: %v", err)
	}
	var fixtures []fixture
	if err := yaml.Unmarshal(raw, &fixtures); err != nil {
		t.Fatalf("parsing fixture yaml: %v", err)
	}
	return fixtures
}

func TestGenerateAgainstFixtures(t *testing.T) {
	fixtures := loadFixtures(t, "testdata/cases.yaml")

	for _, fx := range fixtures {
		fx := fx
		t.Run(fx.World, func(t *testing.T) {
			witSrc, err := os.ReadFile(fx.WitFile)
			if err != nil {
				t.Fatalf("reading %s: %v", fx.WitFile, err)
			}
			w, err := wit.ParseWorld(string(witSrc), fx.World)
			if err != nil {
				t.Fatalf("parsing world: %v", err)
			}
			got, err := dtsgen.Generate(w)
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			for _, want := range fx.Contains {
				if !strings.Contains(got, want) {
					t.Errorf("expected generated .d.ts to contain %q, got:\n%s", want, got)
				}
			}
		})
	}
}
