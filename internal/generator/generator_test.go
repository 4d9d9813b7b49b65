package generator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/saorsa-labs/fae/internal/discovery"
	"github.com/saorsa-labs/fae/internal/embedding"
)

func TestIntentToSkillIDBasic(t *testing.T) {
	got := IntentToSkillID("Send emails via SendGrid")
	want := "send-emails-via-sendgrid"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestIntentToSkillIDSpecialChars(t *testing.T) {
	got := IntentToSkillID("Discord Bot (v2)!")
	if got != "discord-bot-v2" {
		t.Fatalf("got %q", got)
	}
}

func TestIntentToSkillIDCollapsesHyphens(t *testing.T) {
	if got := IntentToSkillID("foo   bar   baz"); got != "foo-bar-baz" {
		t.Fatalf("got %q", got)
	}
}

func TestIntentToSkillIDPreservesUnderscores(t *testing.T) {
	if got := IntentToSkillID("my_skill_name"); got != "my_skill_name" {
		t.Fatalf("got %q", got)
	}
}

func TestIntentToSkillIDTruncatesLong(t *testing.T) {
	long := ""
	for i := 0; i < 100; i++ {
		long += "a"
	}
	if got := IntentToSkillID(long); len(got) > 60 {
		t.Fatalf("want <= 60 chars, got %d", len(got))
	}
}

func TestIntentToSkillIDEmptyReturnsEmpty(t *testing.T) {
	if IntentToSkillID("") != "" || IntentToSkillID("!!!") != "" {
		t.Fatal("want empty for empty/non-alphanumeric intent")
	}
}

func TestTitleCaseBasic(t *testing.T) {
	if got := titleCase("send-email"); got != "Send Email" {
		t.Fatalf("got %q", got)
	}
	if got := titleCase("discord_bot"); got != "Discord Bot" {
		t.Fatalf("got %q", got)
	}
}

func TestTemplateScriptContainsJSONRPCHandlers(t *testing.T) {
	script := templateScript("test-skill", "A test skill")
	for _, want := range []string{"handshake", "invoke", "health", "shutdown", "# /// script", "test-skill"} {
		if !strings.Contains(script, want) {
			t.Fatalf("script missing %q", want)
		}
	}
}

func TestPipelineGenerateBasic(t *testing.T) {
	dir := t.TempDir()
	p := WithDefaults()
	outcome, err := p.Generate("send emails via sendgrid", dir)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if outcome.Proposal == nil {
		t.Fatal("want a proposal")
	}
	if outcome.Proposal.SkillID != "send-emails-via-sendgrid" {
		t.Fatalf("got skill id %q", outcome.Proposal.SkillID)
	}
	if outcome.Proposal.Name != "Send Emails Via Sendgrid" {
		t.Fatalf("got name %q", outcome.Proposal.Name)
	}
}

func TestPipelineGenerateEmptyIntentErrors(t *testing.T) {
	dir := t.TempDir()
	p := WithDefaults()
	if _, err := p.Generate("", dir); err == nil {
		t.Fatal("want error for empty intent")
	}
}

func TestValidateStagedSkillMissingManifest(t *testing.T) {
	dir := t.TempDir()
	if _, err := ValidateStagedSkill(dir); err == nil {
		t.Fatal("want error for missing manifest")
	}
}

func TestValidateStagedSkillMissingHandshake(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "manifest.toml"), []byte("id = \"test\"\nname = \"Test\"\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "skill.py"), []byte("print('hello')"), 0o644)
	_, err := ValidateStagedSkill(dir)
	if err == nil || !strings.Contains(err.Error(), "handshake") {
		t.Fatalf("want handshake error, got %v", err)
	}
}

func TestCheckDiscoveryReturnsMatchAboveThreshold(t *testing.T) {
	dbDir := t.TempDir()
	idx, err := discovery.Open(filepath.Join(dbDir, "discovery.db"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	defer idx.Close()

	eng := embedding.NewHashEngine()
	vec, _ := eng.Embed("send transactional email")
	idx.IndexSkill("send-emails-via-sendgrid", "Send Emails", "Sends email", discovery.SourcePython, vec, 1000)

	p := WithDefaults()
	match, err := p.CheckDiscovery(idx, vec)
	if err != nil {
		t.Fatalf("check discovery: %v", err)
	}
	if match == nil || match.SkillID != "send-emails-via-sendgrid" {
		t.Fatalf("want existing match, got %+v", match)
	}
}

func TestParseInlineMetadataExtractsRequiresPython(t *testing.T) {
	script := templateScript("foo", "bar")
	meta := ParseInlineMetadata(script)
	if meta.RequiresPython != ">=3.11" {
		t.Fatalf("want requires-python, got %q", meta.RequiresPython)
	}
}
