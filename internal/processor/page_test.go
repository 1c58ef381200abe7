package processor

import "testing"

func TestJobSource(t *testing.T) {
	tests := []struct {
		name string
		req  JobRequest
		want string
	}{
		{"explicit source wins", JobRequest{Source: "upload:42", ImagePath: "/a.png"}, "upload:42"},
		{"falls back to path", JobRequest{ImagePath: "/a.png"}, "/a.png"},
		{"inline data", JobRequest{ImageData: []byte{1}}, "inline"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := jobSource(&tt.req); got != tt.want {
				t.Errorf("jobSource = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewPageProcessorValidation(t *testing.T) {
	if _, err := NewPageProcessor(nil, nil, nil); err == nil {
		t.Error("expected error for nil OCR processor")
	}
}
