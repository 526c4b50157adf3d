package outcome

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/probelabs/stdiorpc/internal/jsonrpc"
)

func TestClassify(t *testing.T) {
	success := &jsonrpc.Response{Result: []byte(`{}`)}
	failure := &jsonrpc.Response{Error: &jsonrpc.Error{Code: -32601, Message: "method not found"}}

	tests := []struct {
		name        string
		resp        *jsonrpc.Response
		expectError bool
		want        Outcome
	}{
		{"result, no error expected", success, false, Success},
		{"error, error expected", failure, true, Success},
		{"result, error expected", success, true, Mismatch},
		{"error, no error expected", failure, false, ProtocolError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.resp, tt.expectError))
		})
	}
}

func TestDescribe_CarriesErrorCode(t *testing.T) {
	failure := &jsonrpc.Response{Error: &jsonrpc.Error{Code: -32602, Message: "invalid params"}}

	detail := Describe(ProtocolError, failure)
	assert.Contains(t, detail, "-32602")
	assert.Contains(t, detail, "invalid params")

	assert.Empty(t, Describe(Success, &jsonrpc.Response{Result: []byte(`{}`)}))
	assert.Equal(t, "expected failure, got success", Describe(Mismatch, nil))
}
