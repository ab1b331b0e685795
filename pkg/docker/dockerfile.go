package docker

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"text/template"

	cberrors "github.com/Azure/container-bootstrap/pkg/common/errors"
	"github.com/Azure/container-bootstrap/pkg/common/filesystem"
	"github.com/Azure/container-bootstrap/pkg/logger"
)

//go:embed templates
var templatesFS embed.FS

// Output files and the templates they are rendered from.
var scaffoldFiles = map[string]string{
	"Dockerfile":    "Dockerfile.tmpl",
	".dockerignore": "dockerignore.tmpl",
}

// ScaffoldOptions feeds the Dockerfile templates.
type ScaffoldOptions struct {
	Variant        string
	PythonVersion  string
	BinarySource   string
	Port           int
	ServerCommand  []string
	PackageVariant string
	Force          bool
}

func DefaultScaffoldOptions() ScaffoldOptions {
	return ScaffoldOptions{
		Variant:        "container",
		PythonVersion:  "3.11",
		BinarySource:   "bin/container-bootstrap",
		Port:           8000,
		ServerCommand:  []string{"gunicorn", "--bind", "0.0.0.0:8000", "app.wsgi"},
		PackageVariant: "slim",
	}
}

// Variants lists the embedded template sets.
func Variants() ([]string, error) {
	entries, err := templatesFS.ReadDir("templates")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Render returns the rendered files keyed by output name.
func Render(opts ScaffoldOptions) (map[string][]byte, error) {
	if _, err := templatesFS.ReadDir(path.Join("templates", opts.Variant)); err != nil {
		return nil, cberrors.Newf(cberrors.CodeInvalidParameter, "docker", "unknown scaffold variant %q", opts.Variant)
	}
	funcs := template.FuncMap{
		"json": func(v interface{}) (string, error) {
			b, err := json.Marshal(v)
			return string(b), err
		},
	}

	out := make(map[string][]byte, len(scaffoldFiles))
	for name, tmplName := range scaffoldFiles {
		tmplPath := path.Join("templates", opts.Variant, tmplName)
		tmpl, err := template.New(tmplName).Funcs(funcs).ParseFS(templatesFS, tmplPath)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", tmplPath, err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, opts); err != nil {
			return nil, fmt.Errorf("rendering template %s: %w", tmplPath, err)
		}
		out[name] = buf.Bytes()
	}
	return out, nil
}

// WriteScaffold renders the templates into targetDir. Existing files are kept unless
// opts.Force is set; the names of written files are returned.
func WriteScaffold(targetDir string, opts ScaffoldOptions) ([]string, error) {
	files, err := Render(opts)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return nil, cberrors.New(cberrors.CodeIoError, "docker", fmt.Sprintf("creating %s", targetDir), err)
	}

	var written []string
	for _, name := range []string{"Dockerfile", ".dockerignore"} {
		dest := filepath.Join(targetDir, name)
		if filesystem.FileExists(dest) && !opts.Force {
			logger.Warnf("%s already exists; use --force to overwrite", dest)
			continue
		}
		if err := os.WriteFile(dest, files[name], 0644); err != nil {
			return written, cberrors.New(cberrors.CodeIoError, "docker", fmt.Sprintf("writing %s", dest), err)
		}
		written = append(written, name)
	}
	return written, nil
}
