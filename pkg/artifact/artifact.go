// Package artifact finds files the Reasoner announces with GENERATED:<filename>
// lines and checks them against the sandbox's shared work directory.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nstogner/datachat/pkg/domain"
)

// Prefix marks an artifact announcement line.
const Prefix = "GENERATED:"

// Parse returns the file names announced in content, in order, without
// duplicates. Only lines consisting of the prefix followed by a bare file
// name count.
func Parse(content string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		name, ok := strings.CutPrefix(line, Prefix)
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// Resolver maps announced names to files in a work directory.
type Resolver struct {
	dir string
}

// NewResolver returns a resolver rooted at dir.
func NewResolver(dir string) *Resolver {
	return &Resolver{dir: dir}
}

// Dir returns the work directory.
func (r *Resolver) Dir() string { return r.dir }

// Resolve returns the artifacts announced in content that exist in the work
// directory, plus an annotation for each announcement that does not.
func (r *Resolver) Resolve(content string) ([]domain.Artifact, []domain.Annotation) {
	var (
		artifacts   []domain.Artifact
		annotations []domain.Annotation
	)
	for _, name := range Parse(content) {
		a, problem := r.check(name)
		if problem != "" {
			annotations = append(annotations, domain.Annotation{
				Code:     domain.AnnotationMalformedArtifact,
				Filename: name,
				Detail:   problem,
			})
			continue
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, annotations
}

// Lookup returns the artifact for a bare file name in the work directory.
func (r *Resolver) Lookup(name string) (domain.Artifact, error) {
	a, problem := r.check(name)
	if problem != "" {
		return domain.Artifact{}, fmt.Errorf("%w: %s", domain.ErrMalformedArtifactReference, problem)
	}
	return a, nil
}

func (r *Resolver) check(name string) (domain.Artifact, string) {
	if strings.ContainsAny(name, " \t") || filepath.Base(name) != name || name == "." || name == ".." {
		return domain.Artifact{}, fmt.Sprintf("%q is not a bare file name", name)
	}
	path := filepath.Join(r.dir, name)
	info, err := os.Stat(path)
	if err != nil {
		return domain.Artifact{}, fmt.Sprintf("%q not found in work directory", name)
	}
	if info.IsDir() {
		return domain.Artifact{}, fmt.Sprintf("%q is a directory", name)
	}
	return domain.Artifact{Name: name, Path: path}, ""
}
