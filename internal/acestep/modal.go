package acestep

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ModalClient calls a Modal-hosted deployment that generates synchronously:
// one request carries the source audio and returns the finished mix.
type ModalClient struct {
	url  string
	http *http.Client
}

// NewModalClient creates a client for the endpoint at url.
func NewModalClient(url string) *ModalClient {
	return &ModalClient{
		url:  url,
		http: &http.Client{Timeout: 15 * time.Minute},
	}
}

type modalRequest struct {
	LegoParams
	SrcAudioBase64 string `json:"src_audio_base64,omitempty"`
}

type modalResponse struct {
	Status    string     `json:"status"`
	Outputs   []string   `json:"outputs"`
	Format    string     `json:"format"`
	Count     int        `json:"count"`
	Metas     *Metas     `json:"metas,omitempty"`
	SeedValue flexString `json:"seed_value,omitempty"`
	DitModel  string     `json:"dit_model,omitempty"`
}

// ModalResult is the first generated output.
type ModalResult struct {
	Audio     []byte
	Format    string
	Metas     *Metas // nil when the deployment reports none
	SeedValue string
	DitModel  string
}

// Generate runs one generation and waits for it.
func (m *ModalClient) Generate(ctx context.Context, srcAudio []byte, params LegoParams) (ModalResult, error) {
	reqBody := modalRequest{LegoParams: params}
	if len(srcAudio) > 0 {
		reqBody.SrcAudioBase64 = base64.StdEncoding.EncodeToString(srcAudio)
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return ModalResult{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return ModalResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return ModalResult{}, fmt.Errorf("modal generation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(resp.Body)
		return ModalResult{}, fmt.Errorf("modal generation failed: %d - %s", resp.StatusCode, strings.TrimSpace(string(text)))
	}

	var out modalResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ModalResult{}, fmt.Errorf("decode response: %w", err)
	}
	if out.Status != "succeeded" {
		return ModalResult{}, fmt.Errorf("modal generation status: %s", out.Status)
	}
	if len(out.Outputs) == 0 {
		return ModalResult{}, fmt.Errorf("modal returned no outputs")
	}

	audio, err := base64.StdEncoding.DecodeString(out.Outputs[0])
	if err != nil {
		return ModalResult{}, fmt.Errorf("decode output: %w", err)
	}
	return ModalResult{
		Audio:     audio,
		Format:    out.Format,
		Metas:     out.Metas,
		SeedValue: string(out.SeedValue),
		DitModel:  out.DitModel,
	}, nil
}
