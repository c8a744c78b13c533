// Ragrelay CI/CD
//
// Package main provides reproducible builds and tests for the relay and its CLI,
// locally and in GitHub actions.
package main

import (
	"context"

	"dagger/ragrelay/internal/dagger"
)

// Ragrelay is the main module for the ragrelay pipeline
type Ragrelay struct {
	// Project source directory
	//
	// +private
	Source *dagger.Directory
}

// New creates a new Ragrelay CI/CD module instance
func New(
	// Project source directory.
	//
	// +defaultPath="/"
	// +ignore=[".git", ".direnv", "build", "tmp", "_examples"]
	source *dagger.Directory,
) *Ragrelay {
	return &Ragrelay{
		Source: source,
	}
}

// goContainer returns a Debian Bookworm-based Go container with the project
// source mounted and module caches attached. The relay is pure Go, so CGO is off.
func (r *Ragrelay) goContainer() *dagger.Container {
	return dag.Container().
		From("golang:1.25-bookworm").
		WithEnvVariable("CGO_ENABLED", "0").
		WithEnvVariable("PATH", "/go/bin:$PATH", dagger.ContainerWithEnvVariableOpts{Expand: true}).
		WithMountedCache("/go/pkg/mod", dag.CacheVolume("go-mod")).
		WithMountedCache("/root/.cache/go-build", dag.CacheVolume("go-build")).
		WithWorkdir("/src").
		WithDirectory("/src", r.Source)
}

// Test runs the ragrelay unit and end-to-end suites via "go test"
func (r *Ragrelay) Test(ctx context.Context) (string, error) {
	return r.goContainer().
		WithExec([]string{"go", "test", "-race", "-v", "./..."}).
		Stdout(ctx)
}
