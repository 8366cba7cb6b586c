package job

import "testing"

func TestStatusIsTerminal(t *testing.T) {
	cases := []struct {
		status Status
		want   bool
	}{
		{StatusQueued, false},
		{StatusInProgress, false},
		{StatusCompleted, true},
		{StatusFailed, true},
	}
	for _, tc := range cases {
		if got := tc.status.IsTerminal(); got != tc.want {
			t.Errorf("%s.IsTerminal() = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestCreateRequestValidate(t *testing.T) {
	valid := CreateRequest{Model: "sora-2", Prompt: "a cat", Size: "720x1280", Seconds: 4}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	cases := []struct {
		name string
		req  CreateRequest
	}{
		{"empty prompt", CreateRequest{Model: "sora-2", Prompt: "  ", Size: "720x1280", Seconds: 4}},
		{"unknown model", CreateRequest{Model: "dall-e", Prompt: "a cat", Size: "720x1280", Seconds: 4}},
		{"unknown size", CreateRequest{Model: "sora-2", Prompt: "a cat", Size: "640x480", Seconds: 4}},
		{"bad seconds", CreateRequest{Model: "sora-2", Prompt: "a cat", Size: "720x1280", Seconds: 5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.req.Validate(); err == nil {
				t.Errorf("Validate() = nil, want error")
			}
		})
	}
}

func TestRemixRequestValidate(t *testing.T) {
	valid := RemixRequest{SourceID: "video_123", Prompt: "make it rain"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	cases := []struct {
		name string
		req  RemixRequest
	}{
		{"empty source", RemixRequest{SourceID: "", Prompt: "x"}},
		{"temp source", RemixRequest{SourceID: NewTempID(), Prompt: "x"}},
		{"empty prompt", RemixRequest{SourceID: "video_123", Prompt: ""}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.req.Validate(); err == nil {
				t.Errorf("Validate() = nil, want error")
			}
		})
	}
}

func TestTempIDs(t *testing.T) {
	id := NewTempID()
	if !IsTempID(id) {
		t.Errorf("IsTempID(%q) = false, want true", id)
	}
	if IsTempID("video_abc123") {
		t.Error("IsTempID(video_abc123) = true, want false")
	}
	if id == NewTempID() {
		t.Error("NewTempID returned the same id twice")
	}
}
