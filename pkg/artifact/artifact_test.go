package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/nstogner/datachat/pkg/domain"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"none", "just text", nil},
		{"single", "Saved the plot.\nGENERATED:plot.png\n", []string{"plot.png"}},
		{"indented", "  GENERATED: chart.png  ", []string{"chart.png"}},
		{"dedup", "GENERATED:a.png\nGENERATED:a.png\nGENERATED:b.csv", []string{"a.png", "b.csv"}},
		{"mid-line ignored", "I wrote GENERATED:x.png earlier", nil},
		{"empty name", "GENERATED:", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.content)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "plot.png"), []byte("png"), 0644); err != nil {
		t.Fatal(err)
	}
	r := NewResolver(dir)

	arts, anns := r.Resolve("GENERATED:plot.png\nGENERATED:missing.png\nGENERATED:../etc/passwd")
	if len(arts) != 1 || arts[0].Name != "plot.png" || arts[0].Path != filepath.Join(dir, "plot.png") {
		t.Errorf("artifacts = %+v", arts)
	}
	if len(anns) != 2 {
		t.Fatalf("annotations = %+v, want 2", anns)
	}
	for _, a := range anns {
		if a.Code != domain.AnnotationMalformedArtifact {
			t.Errorf("annotation code = %q", a.Code)
		}
		if !errors.Is(a.Err(), domain.ErrMalformedArtifactReference) {
			t.Errorf("annotation error %v should wrap ErrMalformedArtifactReference", a.Err())
		}
	}
	if anns[0].Filename != "missing.png" {
		t.Errorf("first annotation filename = %q", anns[0].Filename)
	}
}

func TestLookupRejectsDirectories(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	if _, err := NewResolver(dir).Lookup("sub"); !errors.Is(err, domain.ErrMalformedArtifactReference) {
		t.Errorf("Lookup(dir) err = %v", err)
	}
}
