package engine

import "testing"

func TestDecodeDataURI(t *testing.T) {
	tests := []struct {
		name    string
		uri     string
		want    string
		wantErr bool
	}{
		{"base64", "data:text/plain;base64,aGVsbG8=", "hello", false},
		{"base64 unpadded", "data:text/plain;base64,aGVsbG8", "hello", false},
		{"base64 upper-case marker", "data:application/json;BASE64,e30=", "{}", false},
		{"percent encoded", "data:text/plain,a%2Cb%20c", "a,b c", false},
		{"no media type", "data:,plain", "plain", false},
		{"not a data uri", "https://example.com/file.txt", "", true},
		{"missing comma", "data:text/plain;base64", "", true},
		{"bad base64", "data:text/plain;base64,!!!", "", true},
		{"binary payload", "data:image/png;base64,/w==", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeDataURI(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
