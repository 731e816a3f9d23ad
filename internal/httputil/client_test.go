package httputil

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestMockHTTPClient_QueuedResponses(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `{"person_count": 2}`)
	mock.AddErrorResponse(errors.New("connection refused"))

	req, _ := http.NewRequest(http.MethodPost, "http://detector/detect", strings.NewReader("frame"))
	resp, err := mock.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"person_count": 2}` {
		t.Errorf("got body %q", body)
	}
	if string(mock.Body(0)) != "frame" {
		t.Errorf("recorded body = %q", mock.Body(0))
	}

	req, _ = http.NewRequest(http.MethodPost, "http://detector/detect", nil)
	if _, err := mock.Do(req); err == nil {
		t.Error("expected queued transport error")
	}

	req, _ = http.NewRequest(http.MethodGet, "http://detector/", nil)
	resp, err = mock.Do(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Errorf("drained queue should answer 200, got %v %v", resp, err)
	}
	if mock.RequestCount() != 3 {
		t.Errorf("RequestCount() = %d, want 3", mock.RequestCount())
	}
}

func TestReadBody(t *testing.T) {
	ok := &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader("fine"))}
	body, err := ReadBody(ok)
	if err != nil || string(body) != "fine" {
		t.Errorf("ReadBody(200) = %q, %v", body, err)
	}

	bad := &http.Response{StatusCode: 502, Body: io.NopCloser(strings.NewReader(" upstream down \n"))}
	_, err = ReadBody(bad)
	if err == nil || !strings.Contains(err.Error(), "502: upstream down") {
		t.Errorf("ReadBody(502) error = %v", err)
	}
}
