// Package packager installs Python dependencies into a deployable directory and prunes
// the tree of tests, caches and documentation to keep serverless artifacts small.
package packager

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	cberrors "github.com/Azure/container-bootstrap/pkg/common/errors"
	"github.com/Azure/container-bootstrap/pkg/common/filesystem"
	"github.com/Azure/container-bootstrap/pkg/logger"
	"github.com/Azure/container-bootstrap/pkg/runner"
)

type Variant string

const (
	// VariantSlim removes byte code and keeps sources.
	VariantSlim Variant = "slim"
	// VariantCompiled byte-compiles the tree and removes the sources it compiled.
	VariantCompiled Variant = "compiled"
)

// ParseVariant validates a variant name.
func ParseVariant(s string) (Variant, error) {
	switch Variant(s) {
	case VariantSlim, VariantCompiled:
		return Variant(s), nil
	}
	return "", cberrors.Newf(cberrors.CodeInvalidParameter, "packager", "unknown variant %q", s)
}

// CommonPrunePatterns apply to every variant. Later "!" patterns keep files that an
// earlier pattern matched.
var CommonPrunePatterns = []string{
	"**/tests/",
	"**/test/",
	"**/__pycache__/",
	"**/.pytest_cache/",
	"**/docs/",
	"**/doc/",
	"**/examples/",
	"*.pyo",
	"*.md",
	"*.rst",
	"*.txt",
	"!LICENSE*",
	"!**/entry_points.txt",
	"!**/top_level.txt",
}

// PrunePatterns returns the patterns for a variant followed by extra.
func PrunePatterns(v Variant, extra []string) []string {
	patterns := append([]string{}, CommonPrunePatterns...)
	if v == VariantSlim {
		patterns = append(patterns, "*.pyc")
	}
	return append(patterns, extra...)
}

type Options struct {
	Requirements  string
	Target        string
	Python        string
	Variant       Variant
	ExtraPatterns []string
	Out           io.Writer
}

type Report struct {
	Requirements    int
	Installed       bool
	RemovedFiles    int
	RemovedBytes    int64
	CompiledSources int
	FinalFiles      int
	FinalBytes      int64
	// PruneErrors are reported but never fail the build.
	PruneErrors error
}

// Summary renders the report for humans.
func (r *Report) Summary() string {
	return fmt.Sprintf("%d requirement(s), removed %d file(s) (%s), stripped %d source(s), final size %s in %d file(s)",
		r.Requirements, r.RemovedFiles, humanize.Bytes(uint64(r.RemovedBytes)), r.CompiledSources,
		humanize.Bytes(uint64(r.FinalBytes)), r.FinalFiles)
}

type Packager struct {
	runner runner.CommandRunner
	opts   Options
}

func New(r runner.CommandRunner, opts Options) *Packager {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Python == "" {
		opts.Python = "python"
	}
	if opts.Variant == "" {
		opts.Variant = VariantSlim
	}
	return &Packager{runner: r, opts: opts}
}

// Build installs, prunes and optionally compiles. Install and compile failures abort;
// pruning is best-effort.
func (p *Packager) Build(ctx context.Context) (*Report, error) {
	report := &Report{}
	target := p.opts.Target

	if err := os.MkdirAll(target, 0755); err != nil {
		return report, cberrors.New(cberrors.CodeIoError, "packager", fmt.Sprintf("creating %s", target), err)
	}

	count, err := CountRequirements(p.opts.Requirements)
	if err != nil {
		return report, err
	}
	report.Requirements = count
	if count == 0 {
		logger.Infof("No requirements in %s; leaving %s empty", p.opts.Requirements, target)
		return report, nil
	}

	if err := p.install(ctx); err != nil {
		return report, err
	}
	report.Installed = true

	pruned, err := Prune(target, PrunePatterns(p.opts.Variant, p.opts.ExtraPatterns))
	report.RemovedFiles = pruned.Files
	report.RemovedBytes = pruned.Bytes
	if err != nil {
		report.PruneErrors = err
		logger.Warnf("Some files could not be pruned: %v", err)
	}

	if p.opts.Variant == VariantCompiled {
		if err := p.compile(ctx); err != nil {
			return report, err
		}
		stripped, err := StripSources(target)
		report.CompiledSources = stripped
		if err != nil {
			report.PruneErrors = utilerrors.NewAggregate([]error{report.PruneErrors, err})
			logger.Warnf("Some sources could not be removed: %v", err)
		}
	}

	size, files, err := filesystem.DirSize(target)
	if err != nil {
		return report, cberrors.New(cberrors.CodeIoError, "packager", "measuring package size", err)
	}
	report.FinalBytes = size
	report.FinalFiles = files
	return report, nil
}

func (p *Packager) install(ctx context.Context) error {
	err := p.runner.Run(ctx, runner.Command{
		Args: []string{p.opts.Python, "-m", "pip", "install",
			"-r", p.opts.Requirements, "-t", p.opts.Target, "--no-cache-dir"},
		Stdout: p.opts.Out,
		Stderr: p.opts.Out,
	})
	if err != nil {
		return cberrors.New(cberrors.CodeBuildFailed, "packager", "pip install failed", err)
	}
	return nil
}

func (p *Packager) compile(ctx context.Context) error {
	err := p.runner.Run(ctx, runner.Command{
		Args:   []string{p.opts.Python, "-m", "compileall", "-b", "-q", p.opts.Target},
		Stdout: p.opts.Out,
		Stderr: p.opts.Out,
	})
	if err != nil {
		return cberrors.New(cberrors.CodeBuildFailed, "packager", "byte compilation failed", err)
	}
	return nil
}

// CountRequirements counts requirement lines, ignoring blanks and comments. A missing
// file counts as zero.
func CountRequirements(path string) (int, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, cberrors.New(cberrors.CodeIoError, "packager", fmt.Sprintf("opening %s", path), err)
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, cberrors.New(cberrors.CodeIoError, "packager", fmt.Sprintf("reading %s", path), err)
	}
	return count, nil
}

type PruneResult struct {
	Files int
	Bytes int64
	Paths []string
}

// Prune deletes every entry under root that matches patterns. Matching directories are
// removed whole. Errors are collected and the walk continues.
func Prune(root string, patterns []string) (PruneResult, error) {
	var result PruneResult
	var errs []error
	matcher := filesystem.NewMatcher(patterns...)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return nil
		}
		if !matcher.Matches(rel, d.IsDir()) {
			return nil
		}

		if d.IsDir() {
			size, files, err := filesystem.DirSize(path)
			if err != nil {
				errs = append(errs, err)
			}
			if err := os.RemoveAll(path); err != nil {
				errs = append(errs, err)
				return fs.SkipDir
			}
			result.Files += files
			result.Bytes += size
			result.Paths = append(result.Paths, filepath.ToSlash(rel)+"/")
			return fs.SkipDir
		}

		info, err := d.Info()
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
			return nil
		}
		result.Files++
		result.Bytes += info.Size()
		result.Paths = append(result.Paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		errs = append(errs, err)
	}
	return result, utilerrors.NewAggregate(errs)
}

// StripSources removes every .py file that has a compiled .pyc beside it.
func StripSources(root string) (int, error) {
	removed := 0
	var errs []error
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		if d.IsDir() || filepath.Ext(path) != ".py" {
			return nil
		}
		if !filesystem.IsRegularFile(path + "c") {
			return nil
		}
		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
			return nil
		}
		removed++
		return nil
	})
	if err != nil {
		errs = append(errs, err)
	}
	return removed, utilerrors.NewAggregate(errs)
}
