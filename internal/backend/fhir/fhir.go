// Package fhir implements the FHIR-measure-evaluator backend adapter
// (spec.md §4.4): POST a Library resource, POST a Measure resource, then
// GET $evaluate-measure and flatten the resulting measure-report.
package fhir

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/samply/focus-go/internal/backend"
)

// Adapter talks to a FHIR measure-evaluator endpoint (e.g. Blaze).
type Adapter struct {
	baseURL string
	http    *http.Client
}

// New builds a FHIR adapter against baseURL (no trailing slash expected;
// one is added internally), using the shared HTTP client.
func New(baseURL string, httpClient *http.Client) *Adapter {
	return &Adapter{baseURL: baseURL, http: httpClient}
}

// CheckAvailability GETs the server's capability statement. Any 2xx means
// the server is up (blaze.rs's check_availability semantics).
func (a *Adapter) CheckAvailability(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/metadata", nil)
	if err != nil {
		return err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return &backend.ErrBackendStatus{Op: "fhir check_availability", Body: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &backend.ErrBackendStatus{Op: "fhir check_availability", Status: resp.StatusCode}
	}
	return nil
}

// bundleEntry/resourceEnvelope model just enough of the transaction Bundle
// cql.Envelope produces to pull the Library and Measure resources back out
// for two independent POSTs (spec.md §4.4's literal "POST a Library
// resource, POST a Measure resource" sequence).
type bundleEntry struct {
	Resource json.RawMessage `json:"resource"`
}

type bundle struct {
	Entry []bundleEntry `json:"entry"`
}

// Submit implements backend.Adapter for backend.KindFHIRBundle queries.
func (a *Adapter) Submit(ctx context.Context, q backend.CompiledQuery) (backend.SubmitResult, error) {
	if q.Kind != backend.KindFHIRBundle {
		return backend.SubmitResult{}, fmt.Errorf("fhir: wrong query kind %d", q.Kind)
	}

	var b bundle
	if err := json.Unmarshal([]byte(q.FHIRBundleJSON), &b); err != nil {
		return backend.SubmitResult{}, fmt.Errorf("fhir: decoding envelope: %w", err)
	}
	if len(b.Entry) != 2 {
		return backend.SubmitResult{}, fmt.Errorf("fhir: expected Library+Measure entries, got %d", len(b.Entry))
	}

	if err := a.postResource(ctx, "Library", b.Entry[0].Resource); err != nil {
		return backend.SubmitResult{}, err
	}
	if err := a.postResource(ctx, "Measure", b.Entry[1].Resource); err != nil {
		return backend.SubmitResult{}, err
	}

	raw, err := a.evaluateMeasure(ctx, q.MeasureURL)
	if err != nil {
		return backend.SubmitResult{}, err
	}

	report, err := parseMeasureReport(raw)
	if err != nil {
		return backend.SubmitResult{}, err
	}
	return backend.SubmitResult{Report: &report}, nil
}

func (a *Adapter) postResource(ctx context.Context, kind string, body json.RawMessage) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/"+kind, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return &backend.ErrBackendStatus{Op: "fhir post " + kind, Body: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return &backend.ErrBackendStatus{Op: "fhir post " + kind, Status: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}

func (a *Adapter) evaluateMeasure(ctx context.Context, measureURL string) ([]byte, error) {
	url := fmt.Sprintf("%s/Measure/$evaluate-measure?measure=%s&periodStart=2000&periodEnd=2030", a.baseURL, measureURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, &backend.ErrBackendStatus{Op: "fhir evaluate-measure", Body: err.Error()}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &backend.ErrBackendStatus{Op: "fhir evaluate-measure", Status: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

// measureReport is the fixed nested shape spec.md §4.4 names: groups ->
// stratifiers -> strata -> population[0].count.
type measureReport struct {
	Group []struct {
		Population []struct {
			Code struct {
				Coding []struct {
					Code string `json:"code"`
				} `json:"coding"`
			} `json:"code"`
			Count int64 `json:"count"`
		} `json:"population"`
		Stratifier []struct {
			Code []struct {
				Text string `json:"text"`
			} `json:"code"`
			Stratum []struct {
				Value struct {
					Text string `json:"text"`
				} `json:"value"`
				Population []struct {
					Count int64 `json:"count"`
				} `json:"population"`
			} `json:"stratum"`
		} `json:"stratifier"`
	} `json:"group"`
}

func parseMeasureReport(raw []byte) (backend.Report, error) {
	var mr measureReport
	if err := json.Unmarshal(raw, &mr); err != nil {
		return backend.Report{}, fmt.Errorf("fhir: decoding measure-report: %w", err)
	}

	report := backend.Report{
		Totals:      make(map[string]int64),
		Stratifiers: make(map[string]map[string]int64),
	}

	for gi, group := range mr.Group {
		groupName := fmt.Sprintf("group-%d", gi)
		if len(group.Population) > 0 {
			report.Totals[groupName] = group.Population[0].Count
		}

		for _, stratifier := range group.Stratifier {
			name := groupName
			if len(stratifier.Code) > 0 {
				name = stratifier.Code[0].Text
			}
			values := report.Stratifiers[name]
			if values == nil {
				values = make(map[string]int64)
			}
			for _, stratum := range stratifier.Stratum {
				var count int64
				if len(stratum.Population) > 0 {
					count = stratum.Population[0].Count
				}
				values[stratum.Value.Text] = count
			}
			report.Stratifiers[name] = values
		}
	}

	return report, nil
}
