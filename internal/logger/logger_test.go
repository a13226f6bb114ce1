package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewWithJSONOutsideLocal(t *testing.T) {
	var buf bytes.Buffer
	log := NewWith("production", "debug", &buf).WithComponent("extractor")
	log.WithError(errors.New("boom")).Debug("analysis failed")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("not json: %q", buf.String())
	}
	if line["component"] != "extractor" || line["error"] != "boom" || line["msg"] != "analysis failed" {
		t.Errorf("line = %v", line)
	}
}

func TestNewWithLevels(t *testing.T) {
	cases := map[string]logrus.Level{
		"debug": logrus.DebugLevel,
		"WARN":  logrus.WarnLevel,
		"error": logrus.ErrorLevel,
		"":      logrus.InfoLevel,
		"bogus": logrus.InfoLevel,
	}
	for in, want := range cases {
		if got := NewWith("local", in, &bytes.Buffer{}).Logger.GetLevel(); got != want {
			t.Errorf("level %q = %v, want %v", in, got, want)
		}
	}
}

func TestLocalUsesText(t *testing.T) {
	var buf bytes.Buffer
	NewWith("local", "info", &buf).Info("hello")
	if strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), "hello") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestRequestID(t *testing.T) {
	r := httptest.NewRequest("GET", "/healthz", nil)
	if RequestID(r) == "" {
		t.Error("expected generated id")
	}
	r.Header.Set(RequestIDHeader, "abc")
	if got := RequestID(r); got != "abc" {
		t.Errorf("RequestID = %q", got)
	}

	var buf bytes.Buffer
	NewWith("production", "info", &buf).WithRequest(r).Info("served")
	if !strings.Contains(buf.String(), `"req_id":"abc"`) || !strings.Contains(buf.String(), `"path":"/healthz"`) {
		t.Errorf("output = %q", buf.String())
	}
}

func TestWithErrorNil(t *testing.T) {
	var buf bytes.Buffer
	NewWith("production", "info", &buf).WithError(nil).Info("ok")
	if strings.Contains(buf.String(), `"error"`) {
		t.Errorf("output = %q", buf.String())
	}
}
