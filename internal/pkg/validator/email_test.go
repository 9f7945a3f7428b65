package validator

import (
	"errors"
	"reflect"
	"testing"
)

func TestNormalizeAddresses(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    []string
		wantErr bool
	}{
		{"single", []string{"ops@example.com"}, []string{"ops@example.com"}, false},
		{"trims and skips blanks", []string{"  a@example.com ", "", "b@example.com"}, []string{"a@example.com", "b@example.com"}, false},
		{"dedupes case-insensitively", []string{"A@example.com", "a@example.com"}, []string{"A@example.com"}, false},
		{"rejects garbage", []string{"not-an-address"}, nil, true},
		{"rejects display names", []string{"Ops <ops@example.com>"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeAddresses(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNotificationSettings(t *testing.T) {
	got, err := NotificationSettings(false, []string{"ops@example.com"})
	if err != nil || len(got) != 0 {
		t.Errorf("disabled: got %v, %v; want empty list", got, err)
	}

	if _, err := NotificationSettings(true, nil); !errors.Is(err, ErrNoAddresses) {
		t.Errorf("enabled without addresses: err = %v, want ErrNoAddresses", err)
	}

	got, err = NotificationSettings(true, []string{"ops@example.com"})
	if err != nil || len(got) != 1 {
		t.Errorf("enabled: got %v, %v", got, err)
	}
}
