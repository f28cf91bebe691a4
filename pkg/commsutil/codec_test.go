package commsutil

import (
	"errors"
	"testing"
)

const codecTestPrefix = "commsutil:codec_test"

func TestEncodePayload_Unserializable(t *testing.T) {
	if _, err := EncodePayload(make(chan int)); err == nil {
		t.Fatalf("%s - expected error for channel", codecTestPrefix)
	}
}

func TestDecodePayload(t *testing.T) {
	type target struct {
		ProcessID string `json:"processId"`
	}
	tests := []struct {
		name      string
		data      string
		want      string
		wantErr   bool
		wantEmpty bool
	}{
		{name: "object", data: `{"processId":"p-1"}`, want: "p-1"},
		{name: "surrounding whitespace", data: "  {\"processId\":\"p-2\"}\n", want: "p-2"},
		{name: "empty", data: "", wantErr: true, wantEmpty: true},
		{name: "blank", data: "   ", wantErr: true, wantEmpty: true},
		{name: "invalid json", data: `{invalid}`, wantErr: true},
		{name: "trailing document", data: `{"processId":"a"}{"processId":"b"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got target
			err := DecodePayload([]byte(tt.data), &got)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("%s - expected error but got nil", codecTestPrefix)
				}
				if tt.wantEmpty && !errors.Is(err, ErrEmptyPayload) {
					t.Errorf("%s - err = %v, want ErrEmptyPayload", codecTestPrefix, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("%s - unexpected error: %v", codecTestPrefix, err)
			}
			if got.ProcessID != tt.want {
				t.Errorf("%s - processId = %q, want %q", codecTestPrefix, got.ProcessID, tt.want)
			}
		})
	}
}
