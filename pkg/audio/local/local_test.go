package local_test

import (
	"testing"
	"time"

	"github.com/MrWong99/voxrelay/pkg/audio/local"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		rate    int
		frame   time.Duration
		wantErr bool
	}{
		{"valid", 16000, 20 * time.Millisecond, false},
		{"zero rate", 0, 20 * time.Millisecond, true},
		{"zero frame", 16000, 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := local.New(tc.rate, tc.frame)
			if (err != nil) != tc.wantErr {
				t.Fatalf("New(%d, %v) err = %v, wantErr %v", tc.rate, tc.frame, err, tc.wantErr)
			}
		})
	}
}
