package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestList_Empty(t *testing.T) {
	infos, err := List(t.TempDir())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("infos = %+v", infos)
	}
}

func TestList_MissingDir(t *testing.T) {
	infos, err := List(filepath.Join(t.TempDir(), "nope"))
	if err != nil || infos != nil {
		t.Fatalf("infos=%v err=%v", infos, err)
	}
}

func TestList_SummariesAndOrder(t *testing.T) {
	dir := t.TempDir()

	a, _ := Create(dir, "/a")
	a.AppendMessage(userMsg("first session prompt"))
	a.AppendMessage(assistantMsg("reply"))
	a.Close()

	b, _ := Create(dir, "/b")
	b.AppendMessage(userMsg(strings.Repeat("long prompt ", 20)))
	b.Close()

	infos, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("len = %d", len(infos))
	}
	// Newest first; both may share a timestamp second, so just check both IDs present.
	ids := map[string]Info{infos[0].ID: infos[0], infos[1].ID: infos[1]}
	ia, ok := ids[a.ID()]
	if !ok {
		t.Fatal("session a missing")
	}
	if ia.MessageCount != 2 || ia.CWD != "/a" {
		t.Errorf("info a = %+v", ia)
	}
	if ia.FirstMessage != "first session prompt" {
		t.Errorf("first = %q", ia.FirstMessage)
	}
	ib := ids[b.ID()]
	if len(ib.FirstMessage) > 80 {
		t.Errorf("first message not truncated: %d chars", len(ib.FirstMessage))
	}
}

func TestList_SkipsMalformedFiles(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "junk.jsonl"), []byte("garbage\n"), 0o644)

	s, _ := Create(dir, ".")
	s.Close()

	infos, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 1 {
		t.Errorf("len = %d", len(infos))
	}
}
