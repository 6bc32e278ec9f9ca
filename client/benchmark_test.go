package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func BenchmarkClient_GetJSON(b *testing.B) {
	response := map[string]any{
		"info": map[string]string{
			"name":    "foo",
			"summary": "A foo",
			"version": "1.0",
		},
		"releases": map[string][]map[string]any{
			"1.0": {{"filename": "foo-1.0-py3-none-any.whl", "size": 1234}},
		},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	client := DefaultClient()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var result map[string]any
		_ = client.GetJSON(ctx, server.URL, &result)
	}
}

func BenchmarkClient_Post(b *testing.B) {
	body := []byte(`<?xml version="1.0"?><methodResponse><params><param><value><int>1</int></value></param></params></methodResponse>`)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	defer server.Close()

	client := DefaultClient()
	ctx := context.Background()
	call := []byte(`<?xml version="1.0"?><methodCall><methodName>changelog_last_serial</methodName></methodCall>`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = client.Post(ctx, server.URL, "text/xml", call)
	}
}

func BenchmarkDefaultClient(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = DefaultClient()
	}
}
