package main

import (
	"context"
	"fmt"

	"dagger/ragrelay/internal/dagger"
)

const golangciLintVersion = "v2.8.0"

// lintOpts layers golangci-lint on top of goContainer() so module caches are shared
// between CheckLint and FixLint.
func (r *Ragrelay) lintOpts() dagger.GolangcilintOpts {
	base := r.goContainer().
		WithExec([]string{
			"go",
			"install",
			fmt.Sprintf("github.com/golangci/golangci-lint/v2/cmd/golangci-lint@%s", golangciLintVersion),
		})

	return dagger.GolangcilintOpts{
		BaseCtr: base,
	}
}

// CheckLint runs golangci-lint against the ragrelay source without applying fixes.
func (r *Ragrelay) CheckLint(ctx context.Context) (string, error) {
	return dag.Golangcilint(r.Source, r.lintOpts()).Check(ctx)
}

// FixLint runs golangci-lint with --fix and returns the modified source directory.
func (r *Ragrelay) FixLint(ctx context.Context) *dagger.Directory {
	return dag.Golangcilint(r.Source, r.lintOpts()).Lint()
}
