package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/sketchar/internal/config"
	"github.com/mattjoyce/sketchar/internal/log"
)

// ErrUnavailable is returned by a backend that lacks the credentials it needs.
var ErrUnavailable = errors.New("backend unavailable")

// StatusError is returned when a remote endpoint answers with a non-200 status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote backend answered %d %s", e.Code, http.StatusText(e.Code))
}

// Remote sends the staged image to a hosted inference endpoint and writes
// the response body as the model.
type Remote struct {
	cfg      config.RemoteConfig
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewRemote returns the remote backend. Without an API key it is registered
// but unavailable, and every Generate call fails with ErrUnavailable.
func NewRemote(cfg config.RemoteConfig, client *http.Client) *Remote {
	def := config.DefaultRemoteConf()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = def.MaxBytes
	}
	if client == nil {
		client = &http.Client{}
	}
	r := &Remote{
		cfg:      cfg,
		endpoint: strings.TrimSuffix(cfg.URL, "/") + "/" + strings.TrimPrefix(cfg.Model, "/"),
		client:   client,
		logger:   log.WithBackend("remote"),
	}
	if cfg.APIKey == "" {
		r.logger.Warn("remote backend has no API key; set backends.remote.api_key (e.g. ${HF_API_KEY})")
	}
	return r
}

func (r *Remote) Name() string { return "remote" }

// Available reports whether the backend has credentials.
func (r *Remote) Available() bool { return r != nil && r.cfg.APIKey != "" }

func (r *Remote) OutputName(inv Invocation) string {
	return expandOutputName("{stem}.glb", inv)
}

// Generate posts the image as multipart field "file". The request is bound
// to ctx, so the job deadline aborts it.
func (r *Remote) Generate(ctx context.Context, inv Invocation) error {
	if !r.Available() {
		return ErrUnavailable
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body, contentType, err := multipartImage(inv.InputPath)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, body)
	if err != nil {
		return fmt.Errorf("build remote request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	req.Header.Set("Content-Type", contentType)

	logger := r.logger.With("job_id", inv.JobID)
	logger.Debug("calling remote backend", "endpoint", r.endpoint)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxOutputBytes))
		logger.Warn("remote backend failed", "status", resp.StatusCode, "body", string(msg))
		return &StatusError{Code: resp.StatusCode, Body: string(msg)}
	}

	return r.save(resp.Body, r.OutputName(inv))
}

// save streams src beside out and renames it into place, so a cut-off
// response never leaves a file with the model extension.
func (r *Remote) save(src io.Reader, out string) error {
	tmp, err := os.CreateTemp(filepath.Dir(out), ".remote-*.part")
	if err != nil {
		return fmt.Errorf("create remote output: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(src, r.cfg.MaxBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("read remote response: %w", err)
	}
	if n > r.cfg.MaxBytes {
		return fmt.Errorf("remote response exceeds %d bytes", r.cfg.MaxBytes)
	}
	if err := os.Rename(tmp.Name(), out); err != nil {
		return fmt.Errorf("write remote output: %w", err)
	}
	return nil
}

func multipartImage(path string) (io.Reader, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read staged input: %w", err)
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(raw); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
