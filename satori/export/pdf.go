package export

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// MinPDFBytes is the smallest output accepted as a real PDF.
const MinPDFBytes = 500

// Renderer converts an HTML document into a PDF.
type Renderer interface {
	RenderPDF(ctx context.Context, html []byte, pageSize, orientation string) ([]byte, error)
}

// PDF renders html through renderer. It reports false when there is no
// renderer, the renderer fails, or the output is too small to be a PDF;
// callers then serve the HTML instead.
func PDF(ctx context.Context, renderer Renderer, html []byte, pageSize, orientation string) ([]byte, bool) {
	if renderer == nil {
		return nil, false
	}
	out, err := renderer.RenderPDF(ctx, html, pageSize, orientation)
	if err != nil {
		slog.Warn("PDF rendering failed, falling back to HTML", "error", err)
		return nil, false
	}
	if len(out) < MinPDFBytes {
		slog.Warn("PDF output too small, falling back to HTML", "bytes", len(out))
		return nil, false
	}
	return out, true
}

// CommandRenderer shells out to a wkhtmltopdf-compatible binary that reads
// HTML on stdin and writes the PDF to stdout.
type CommandRenderer struct {
	Path    string
	Timeout time.Duration
}

// NewCommandRenderer returns a renderer for the binary at path.
func NewCommandRenderer(path string, timeout time.Duration) *CommandRenderer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &CommandRenderer{Path: path, Timeout: timeout}
}

// Args builds the command line for one render.
func (c *CommandRenderer) Args(pageSize, orientation string) []string {
	if orientation == "" {
		orientation = "portrait"
	}
	return []string{
		"--quiet",
		"--encoding", "utf-8",
		"--page-size", pageSize,
		"--orientation", strings.ToUpper(orientation[:1]) + orientation[1:],
		"--enable-local-file-access",
		"-", "-",
	}
}

func (c *CommandRenderer) RenderPDF(ctx context.Context, html []byte, pageSize, orientation string) ([]byte, error) {
	if c.Path == "" {
		return nil, fmt.Errorf("no PDF renderer configured")
	}
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Path, c.Args(pageSize, orientation)...)
	cmd.Stdin = bytes.NewReader(html)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", c.Path, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
