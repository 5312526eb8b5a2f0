package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMerge_PreservesStructure(t *testing.T) {
	raw := "# core\nASSISTANT_URL=http://assistant:4096\n\n# unrelated comment\nOPENMEMORY_URL=http://openmemory:8765\n"
	got := Merge(raw, map[string]string{"ASSISTANT_URL": "http://other:4096"}, MergeOptions{})

	want := "# core\nASSISTANT_URL=http://other:4096\n\n# unrelated comment\nOPENMEMORY_URL=http://openmemory:8765\n"
	if got != want {
		t.Errorf("merge changed structure:\n%q\nwant\n%q", got, want)
	}
}

func TestMerge_AppendsMissingKeysSorted(t *testing.T) {
	got := Merge("A=1\n", map[string]string{"Z_KEY": "z", "B_KEY": "b"}, MergeOptions{SectionHeader: "added"})

	want := "A=1\n\n# added\nB_KEY=b\nZ_KEY=z\n"
	if got != want {
		t.Errorf("append:\n%q\nwant\n%q", got, want)
	}
}

func TestMerge_UncommentOptIn(t *testing.T) {
	raw := "# DISCORD_BOT_TOKEN=old\n"

	got := Merge(raw, map[string]string{"DISCORD_BOT_TOKEN": "new"}, MergeOptions{})
	if !strings.Contains(got, "# DISCORD_BOT_TOKEN=old") || !strings.Contains(got, "DISCORD_BOT_TOKEN=new\n") {
		t.Errorf("without uncomment the commented line must survive and the key append:\n%q", got)
	}

	got = Merge(raw, map[string]string{"DISCORD_BOT_TOKEN": "new"}, MergeOptions{Uncomment: true})
	if got != "DISCORD_BOT_TOKEN=new\n" {
		t.Errorf("uncomment = %q", got)
	}
}

func TestMerge_FirstOccurrenceWins(t *testing.T) {
	raw := "KEY=a\nKEY=b\n"
	got := Merge(raw, map[string]string{"KEY": "c"}, MergeOptions{})
	if got != "KEY=c\nKEY=b\n" {
		t.Errorf("got %q", got)
	}
}

func TestQuoteRoundTrip(t *testing.T) {
	values := []string{
		"plain",
		"has spaces inside ok",
		"trailing space ",
		"with#hash",
		"with'quote",
		"with\"double",
		"line1\nline2",
		"a=b",
		"",
	}
	for _, v := range values {
		merged := Merge("", map[string]string{"K": v}, MergeOptions{})
		parsed := Parse(merged)
		if parsed["K"] != v {
			t.Errorf("round trip %q -> %q (file %q)", v, parsed["K"], merged)
		}
	}
}

func TestParse_SkipsJunk(t *testing.T) {
	raw := "# comment\n\nnot an assignment\n1BAD=x\nGOOD=1\nGOOD=2\n"
	got := Parse(raw)
	if len(got) != 1 || got["GOOD"] != "1" {
		t.Errorf("parse = %v", got)
	}
}

func TestRemove(t *testing.T) {
	raw := "# header\nA=1\nB=2\nC=3\n"
	got := Remove(raw, "B")
	if got != "# header\nA=1\nC=3\n" {
		t.Errorf("remove = %q", got)
	}
	if Remove("A=1\n", "A") != "" {
		t.Error("removing the only key should empty the file")
	}
}

func TestValidate_RejectsBadKeys(t *testing.T) {
	if err := Validate(map[string]string{"OK_KEY": "v"}); err != nil {
		t.Errorf("valid key rejected: %v", err)
	}
	for _, key := range []string{"1BAD", "has space", "has-dash", ""} {
		if err := Validate(map[string]string{key: "v"}); err == nil {
			t.Errorf("key %q accepted", key)
		}
	}
}

func TestMergeFile_CreatesWithTightPerms(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.env")
	if err := MergeFile(path, map[string]string{"ADMIN_TOKEN": "t"}, MergeOptions{}); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %04o, want 0600", info.Mode().Perm())
	}
	vals, err := ParseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if vals["ADMIN_TOKEN"] != "t" {
		t.Errorf("parse back = %v", vals)
	}
}

func TestRemoveFromFile_MissingFileIsNoop(t *testing.T) {
	if err := RemoveFromFile(filepath.Join(t.TempDir(), "none.env"), "K"); err != nil {
		t.Errorf("missing file: %v", err)
	}
}

func TestWriteRaw_Invariants(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.env")

	if err := WriteRaw(path, strings.Repeat("A", maxRawSize+1)); err == nil {
		t.Error("oversized write accepted")
	}
	if err := WriteRaw(path, "KEY=1\nnot an assignment\n"); err == nil {
		t.Error("non-assignment line accepted")
	}
	if err := WriteRaw(path, "# comment\n\nKEY=1\n"); err != nil {
		t.Errorf("valid raw rejected: %v", err)
	}
}

func TestChannelSecrets_FileWinsOverEnv(t *testing.T) {
	t.Setenv("CHANNEL_API_SECRET", "env-secret")
	t.Setenv("CHANNEL_CHAT_SECRET", "chat-env")

	path := filepath.Join(t.TempDir(), "secrets.env")
	if err := MergeFile(path, map[string]string{"CHANNEL_API_SECRET": "file-secret"}, MergeOptions{}); err != nil {
		t.Fatal(err)
	}

	table, err := ChannelSecrets(path)
	if err != nil {
		t.Fatal(err)
	}
	if table["api"] != "file-secret" {
		t.Errorf("api = %q, want file value", table["api"])
	}
	if table["chat"] != "chat-env" {
		t.Errorf("chat = %q, want env fallback", table["chat"])
	}
}

func TestGenerateSecret(t *testing.T) {
	a, b := GenerateSecret(), GenerateSecret()
	if len(a) != 64 || a == b {
		t.Errorf("secrets %q %q", a, b)
	}
	if ChannelSecretKey("discord") != "CHANNEL_DISCORD_SECRET" {
		t.Error("key shape")
	}
}
