package s3blob

import "testing"

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		in     string
		ssl    bool
		expect string
	}{
		{"https://e2.example.com", false, "https://e2.example.com"},
		{"localhost:9000", false, "http://localhost:9000"},
		{"minio.internal:9000", true, "https://minio.internal:9000"},
	}
	for _, tt := range tests {
		if got := endpointURL(tt.in, tt.ssl); got != tt.expect {
			t.Errorf("endpointURL(%q, %v) = %q, want %q", tt.in, tt.ssl, got, tt.expect)
		}
	}
}

func TestObjectKey(t *testing.T) {
	c := &Client{prefix: "archive"}
	if got := c.objectKey("/datalog/2023-11-14/a.jsonl"); got != "archive/datalog/2023-11-14/a.jsonl" {
		t.Errorf("objectKey() = %q", got)
	}
	c.prefix = ""
	if got := c.objectKey("datalog/a.jsonl"); got != "datalog/a.jsonl" {
		t.Errorf("objectKey() = %q", got)
	}
}
