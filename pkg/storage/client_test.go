package storage

import "testing"

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{"s3://boxel-images/releases/boxel-2024.img.xz", "boxel-images", "releases/boxel-2024.img.xz", false},
		{"s3://boxel-images/boxel.img", "boxel-images", "boxel.img", false},
		{"s3://boxel-images", "boxel-images", "", false},
		{"s3://boxel-images/", "boxel-images", "", false},
		{"s3:///boxel.img", "", "", true},
		{"/tmp/boxel.img", "", "", true},
		{"https://example.com/boxel.img", "", "", true},
	}

	for _, tt := range tests {
		bucket, key, err := ParseURI(tt.uri)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseURI(%q) error = %v, wantErr %v", tt.uri, err, tt.wantErr)
			continue
		}
		if bucket != tt.wantBucket || key != tt.wantKey {
			t.Errorf("ParseURI(%q) = (%q, %q), want (%q, %q)", tt.uri, bucket, key, tt.wantBucket, tt.wantKey)
		}
	}
}

func TestIsRemote(t *testing.T) {
	if !IsRemote("s3://bucket/key") {
		t.Error("s3 uri should be remote")
	}
	if IsRemote("./boxel.img") || IsRemote("S3:/bucket") {
		t.Error("local paths should not be remote")
	}
}
