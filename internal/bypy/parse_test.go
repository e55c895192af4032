package bypy

import (
	"testing"
	"time"
)

const sampleInfo = `Quota: 2TB
Used: 740.443GB
`

const sampleCompare = `==== Same files ===
F - a.tar
==== Different files ===
==== Local only ====
F - b.tar
==== Remote only ====
Statistics:
--------------------------------
Same: 1
Different: 0
Local only: 1
Remote only: 0
`

func TestParseCapacity(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		label   string
		want    int
		wantErr bool
	}{
		{"quota TB", "Quota: 2TB\n", LabelQuota, 2048, false},
		{"quota GB", "Quota: 500GB\n", LabelQuota, 500, false},
		{"fractional TB", "Quota: 2.005TB\nUsed: 1GB\n", LabelQuota, 2053, false},
		{"used GB truncated", sampleInfo, LabelUsed, 740, false},
		{"no unit", "Used: 12.9\n", LabelUsed, 12, false},
		{"last line without newline", "Quota: 1TB\nUsed: 3GB", LabelUsed, 3, false},
		{"missing label", "Token file not found\n", LabelQuota, 0, true},
		{"unknown unit", "Used: 500MB\n", LabelUsed, 0, true},
		{"garbage", "Quota: lots\n", LabelQuota, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCapacity(tt.output, tt.label)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCapacity() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseCapacity() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseCompare(t *testing.T) {
	tests := []struct {
		name       string
		output     string
		want       CompareResult
		wantSynced bool
		wantErr    bool
	}{
		{"synced", "Local only: 0\nRemote only: 0\n", CompareResult{0, 0}, true, false},
		{"local pending", sampleCompare, CompareResult{1, 0}, false, false},
		{"remote extra", "Local only: 0\nRemote only: 2\n", CompareResult{0, 2}, false, false},
		{"headers only", "==== Local only ====\n==== Remote only ====\n", CompareResult{0, 0}, true, false},
		{"bad count", "Local only: x\n", CompareResult{}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCompare(tt.output)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCompare() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got != tt.want {
				t.Errorf("ParseCompare() = %+v, want %+v", got, tt.want)
			}
			if got.Synced() != tt.wantSynced {
				t.Errorf("Synced() = %v, want %v", got.Synced(), tt.wantSynced)
			}
		})
	}
}

func TestParseLocalOnly(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   int
	}{
		{"sample", sampleCompare, 1},
		{"zero", "Local only: 0\n", 0},
		{"skips unparseable line", "Local only: ?\nLocal only: 3\n", 3},
		{"missing", "nothing here", 0},
		{"garbage only", "Local only: many", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLocalOnly(tt.output); got != tt.want {
				t.Errorf("ParseLocalOnly() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseLatestUpload(t *testing.T) {
	shanghai, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		t.Fatal(err)
	}

	output := `/apps/bypy/HomeAssistant备份 ($t $f $s $m $d):
F 9a1b2c3d.tar 1048576 2024-05-01, 10:20:30 0123456789abcdef
F notes.txt 12 2024-06-01, 00:00:00 0123456789abcdef
F e4f5a6b7.tar 2097152 2024-05-03, 20:15:00 fedcba9876543210
`
	got, ok, err := ParseLatestUpload(output, shanghai)
	if err != nil {
		t.Fatalf("ParseLatestUpload() error = %v", err)
	}
	if !ok {
		t.Fatal("expected a timestamp")
	}

	want := time.Date(2024, 5, 4, 4, 15, 0, 0, shanghai)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got.Location().String() != "Asia/Shanghai" {
		t.Errorf("location = %s", got.Location())
	}
	if got.Hour() != 4 || got.Day() != 4 {
		t.Errorf("expected +8h conversion, got %v", got)
	}

	t.Run("no tar entries", func(t *testing.T) {
		_, ok, err := ParseLatestUpload("F notes.txt 12 2024-06-01, 00:00:00 abc\n", shanghai)
		if err != nil || ok {
			t.Errorf("ok = %v, err = %v", ok, err)
		}
	})

	t.Run("invalid date", func(t *testing.T) {
		_, _, err := ParseLatestUpload("F a.tar 1 2024-13-45, 10:00:00 abc\n", shanghai)
		if err == nil {
			t.Error("expected error for invalid date")
		}
	})

	t.Run("nil location keeps utc", func(t *testing.T) {
		got, ok, err := ParseLatestUpload("F a.tar 1 2024-05-01, 10:20:30 abc\n", nil)
		if err != nil || !ok {
			t.Fatalf("ok = %v, err = %v", ok, err)
		}
		if !got.Equal(time.Date(2024, 5, 1, 10, 20, 30, 0, time.UTC)) {
			t.Errorf("got %v", got)
		}
	})
}
