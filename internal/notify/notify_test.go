package notify

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/arasmith/signalbox/internal/models"
	"github.com/bwmarrin/discordgo"
	"github.com/slack-go/slack"
)

func sampleRun(status string, reason *string) *models.Run {
	return &models.Run{
		ID:            "run_ab12cd34",
		IssueNumber:   7,
		Status:        status,
		FailureReason: reason,
	}
}

func sampleRepo() *models.Repo {
	return &models.Repo{ID: "repo_ef56ab78", Owner: "acme", Name: "svc"}
}

func TestFormatRun_Succeeded(t *testing.T) {
	got := FormatRun(sampleRun("succeeded", nil), sampleRepo())
	want := "Run run_ab12cd34 for acme/svc#7 finished: succeeded"
	if got != want {
		t.Errorf("FormatRun = %q, want %q", got, want)
	}
}

func TestFormatRun_FailedIncludesReason(t *testing.T) {
	reason := "verify failed"
	got := FormatRun(sampleRun("failed", &reason), sampleRepo())
	if !strings.Contains(got, "verify failed") {
		t.Errorf("FormatRun = %q, want failure reason included", got)
	}
}

func TestFormatRun_NilRepo(t *testing.T) {
	got := FormatRun(sampleRun("succeeded", nil), nil)
	if !strings.Contains(got, "unknown repo") {
		t.Errorf("FormatRun = %q", got)
	}
}

type recordingNotifier struct {
	calls int
	err   error
}

func (r *recordingNotifier) RunFinished(context.Context, *models.Run, *models.Repo) error {
	r.calls++
	return r.err
}

func TestMulti_FansOutAndReportsFirstError(t *testing.T) {
	ok := &recordingNotifier{}
	bad := &recordingNotifier{err: fmt.Errorf("slack down")}
	after := &recordingNotifier{}

	err := Multi{ok, bad, after}.RunFinished(context.Background(), sampleRun("succeeded", nil), sampleRepo())
	if err == nil || !strings.Contains(err.Error(), "slack down") {
		t.Errorf("Multi error = %v", err)
	}
	if ok.calls != 1 || bad.calls != 1 || after.calls != 1 {
		t.Errorf("calls = %d/%d/%d, want 1/1/1", ok.calls, bad.calls, after.calls)
	}
}

func TestNop(t *testing.T) {
	if err := (Nop{}).RunFinished(context.Background(), sampleRun("failed", nil), nil); err != nil {
		t.Errorf("Nop returned %v", err)
	}
}

// fakeSlack captures posted messages.
type fakeSlack struct {
	channel string
	posts   int
	err     error
}

func (f *fakeSlack) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	f.channel = channelID
	f.posts++
	return "", "", f.err
}

func TestSlackNotifier_Posts(t *testing.T) {
	api := &fakeSlack{}
	n := &SlackNotifier{api: api, channel: "#runs"}

	if err := n.RunFinished(context.Background(), sampleRun("succeeded", nil), sampleRepo()); err != nil {
		t.Fatalf("RunFinished: %v", err)
	}
	if api.posts != 1 || api.channel != "#runs" {
		t.Errorf("posts=%d channel=%q", api.posts, api.channel)
	}
}

func TestSlackNotifier_Error(t *testing.T) {
	api := &fakeSlack{err: fmt.Errorf("rate limited")}
	n := &SlackNotifier{api: api, channel: "#runs"}
	if err := n.RunFinished(context.Background(), sampleRun("succeeded", nil), nil); err == nil {
		t.Error("expected error from failing API")
	}
}

func TestNewSlackNotifier_Validation(t *testing.T) {
	if _, err := NewSlackNotifier("", "#runs"); err == nil {
		t.Error("missing token should fail")
	}
	if _, err := NewSlackNotifier("xoxb-1", ""); err == nil {
		t.Error("missing channel should fail")
	}
}

// fakeDiscord captures sent messages.
type fakeDiscord struct {
	channel string
	sends   int
	err     error
}

func (f *fakeDiscord) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.channel = channelID
	f.sends++
	return &discordgo.Message{}, f.err
}

func TestDiscordNotifier_Sends(t *testing.T) {
	session := &fakeDiscord{}
	n := &DiscordNotifier{session: session, channelID: "123"}

	if err := n.RunFinished(context.Background(), sampleRun("failed", nil), sampleRepo()); err != nil {
		t.Fatalf("RunFinished: %v", err)
	}
	if session.sends != 1 || session.channel != "123" {
		t.Errorf("sends=%d channel=%q", session.sends, session.channel)
	}
}

func TestNewDiscordNotifier_Validation(t *testing.T) {
	if _, err := NewDiscordNotifier("", "123"); err == nil {
		t.Error("missing token should fail")
	}
	if _, err := NewDiscordNotifier("tok", ""); err == nil {
		t.Error("missing channel should fail")
	}
}
