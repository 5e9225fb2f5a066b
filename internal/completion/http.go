package completion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxErrorBody = 64 << 10

// postJSON marshals payload and POSTs it. The caller owns the response body.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload any) (*http.Response, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return client.Do(req)
}

// remoteTransportFailure classifies an error from http.Client.Do for a hosted API.
func remoteTransportFailure(err error) *Failure {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewFailure(KindNetwork, "request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewFailure(KindCanceled, "request cancelled", err)
	}
	return NewFailure(KindNetwork, "request failed", err)
}

// apiError is the error envelope shared by OpenAI-compatible and Google APIs.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Status  string `json:"status"`
	} `json:"error"`
}

// readAPIErrorDetail extracts the backend's explanation from an error response body.
func readAPIErrorDetail(body io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	var env apiError
	if err := json.Unmarshal(raw, &env); err == nil && env.Error.Message != "" {
		return env.Error.Message
	}
	return strings.TrimSpace(string(raw))
}

// remoteStatusFailure classifies a non-2xx response from a hosted API.
func remoteStatusFailure(resp *http.Response) *Failure {
	detail := readAPIErrorDetail(resp.Body)
	f := &Failure{
		Message: "API returned non-2xx status: " + resp.Status,
		Detail:  detail,
		Status:  resp.StatusCode,
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		f.Kind = KindAuthentication
	case resp.StatusCode == http.StatusTooManyRequests:
		f.Kind = KindRateLimit
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500:
		f.Kind = KindNetwork
	case resp.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(detail), "api key"):
		// Google answers an invalid key with 400 INVALID_ARGUMENT.
		f.Kind = KindAuthentication
	default:
		f.Kind = KindBackend
	}
	return f
}

/* =================================================================================
							SERVER-SENT EVENTS
=================================================================================*/

// readSSE calls onEvent for each complete event in r. It stops early when onEvent
// returns errStopStream.
func readSSE(ctx context.Context, r io.Reader, onEvent func(event, data string) error) error {
	br := bufio.NewReader(r)
	var (
		eventName string
		dataLines []string
	)

	flush := func() error {
		if len(dataLines) == 0 {
			eventName = ""
			return nil
		}
		data := strings.Join(dataLines, "\n")
		ev := eventName
		dataLines = nil
		eventName = ""
		return onEvent(ev, data)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		eof := errors.Is(err, io.EOF)
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if ferr := flush(); ferr != nil {
				return ferr
			}
		case strings.HasPrefix(line, ":"):
			// comment
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}

		if eof {
			return flush()
		}
	}
}

var errStopStream = errors.New("stop stream")
