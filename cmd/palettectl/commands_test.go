package main

import (
	"bytes"
	"encoding/base64"
	"net/http"
	"strings"
	"testing"
	"time"

	"palette/internal/webhook"
)

func TestSignCommandProducesVerifiableHeaders(t *testing.T) {
	key := []byte("cli-key")
	secret := "whsec_" + base64.StdEncoding.EncodeToString(key)
	body := `{"id":"pred-1","status":"succeeded"}`

	var out bytes.Buffer
	rootCmd.SetIn(strings.NewReader(body))
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"sign", "-", "--secret", secret, "--id", "msg_fixed"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	header := http.Header{}
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		k, v, ok := strings.Cut(line, ": ")
		if !ok {
			t.Fatalf("malformed line %q", line)
		}
		header.Add(k, v)
	}
	if header.Get(webhook.HeaderID) != "msg_fixed" {
		t.Fatalf("id header = %q", header.Get(webhook.HeaderID))
	}
	if !webhook.IsTimestampValid(header.Get(webhook.HeaderTimestamp), time.Now()) {
		t.Fatalf("timestamp = %q", header.Get(webhook.HeaderTimestamp))
	}
	if !webhook.VerifySignature("msg_fixed", header.Get(webhook.HeaderTimestamp), []byte(body), header.Get(webhook.HeaderSignature), key) {
		t.Fatalf("signature does not verify: %q", header.Get(webhook.HeaderSignature))
	}
}
