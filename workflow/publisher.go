package workflow

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// FormPublisher posts the publish form to the host application, which then
// fulfils the document.
type FormPublisher struct {
	URL             string
	CommunicationID string
	DocumentID      string
	Client          *http.Client
}

func (p *FormPublisher) SubmitPublish(ctx context.Context) error {
	form := url.Values{}
	form.Set("communicationId", p.CommunicationID)
	form.Set("documentId", p.DocumentID)
	if err := postForm(ctx, p.Client, p.URL, form); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// FormGenerator posts the generate form, asking the host application to
// produce a new editable document for a communication.
type FormGenerator struct {
	URL             string
	CommunicationID string
	Client          *http.Client
}

func (g *FormGenerator) SubmitGenerate(ctx context.Context) error {
	form := url.Values{}
	form.Set("communicationId", g.CommunicationID)
	if err := postForm(ctx, g.Client, g.URL, form); err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	return nil
}

func postForm(ctx context.Context, client *http.Client, target string, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}
