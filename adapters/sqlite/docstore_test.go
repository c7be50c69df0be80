package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alistaircroll/pagelove/adapters/sqlite"
	"github.com/alistaircroll/pagelove/domain/doc"
	"github.com/alistaircroll/pagelove/ports"
)

func openStore(t *testing.T, file string) *sqlite.DocStore {
	t.Helper()
	db, err := sqlite.Open(file)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s, err := sqlite.NewDocStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestDocStore_SurvivesReopen(t *testing.T) {
	file := filepath.Join(t.TempDir(), "docs.db")

	s := openStore(t, file)
	d, _ := doc.ParseString("/a.html", `<html><body><p>hello</p></body></html>`)
	if err := s.Create(context.Background(), d); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2 := openStore(t, file)
	defer s2.Close()
	got, err := s2.Get(context.Background(), "/a.html")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	markup, _ := got.RenderString()
	if !strings.Contains(markup, "<p>hello</p>") {
		t.Errorf("reloaded document wrong: %s", markup)
	}
}

func TestDocStore_UpdateWritesThrough(t *testing.T) {
	file := filepath.Join(t.TempDir(), "docs.db")
	s := openStore(t, file)

	d, _ := doc.ParseString("/a.html", `<html><body><ul id="l"><li>one</li></ul></body></html>`)
	if err := s.Put(context.Background(), d); err != nil {
		t.Fatalf("put: %v", err)
	}

	err := s.Update(context.Background(), "/a.html", func(d *doc.Document) error {
		list := d.Body().FirstChild
		child, err := doc.ParseElement("<li>two</li>", list)
		if err != nil {
			return err
		}
		d.AppendChild(list, child)
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	s.Close()

	s2 := openStore(t, file)
	defer s2.Close()
	got, _ := s2.Get(context.Background(), "/a.html")
	markup, _ := got.RenderString()
	if !strings.Contains(markup, "<li>two</li>") {
		t.Errorf("mutation not persisted: %s", markup)
	}
}

func TestDocStore_UpdateErrorDiscards(t *testing.T) {
	file := filepath.Join(t.TempDir(), "docs.db")
	s := openStore(t, file)
	defer s.Close()

	d, _ := doc.ParseString("/a.html", `<html><body><p id="x">old</p></body></html>`)
	if err := s.Put(context.Background(), d); err != nil {
		t.Fatalf("put: %v", err)
	}

	boom := errors.New("boom")
	err := s.Update(context.Background(), "/a.html", func(d *doc.Document) error {
		_ = d.RemoveNode(d.Body().FirstChild)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	got, _ := s.Get(context.Background(), "/a.html")
	markup, _ := got.RenderString()
	if !strings.Contains(markup, `<p id="x">old</p>`) {
		t.Errorf("failed update leaked: %s", markup)
	}
}

func TestDocStore_DeleteRemovesRow(t *testing.T) {
	file := filepath.Join(t.TempDir(), "docs.db")
	s := openStore(t, file)
	defer s.Close()

	d, _ := doc.ParseString("/a.html", `<html><body></body></html>`)
	if err := s.Put(context.Background(), d); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Delete(context.Background(), "/a.html"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	exists, err := s.Exists(context.Background(), "/a.html")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Error("row not deleted")
	}
	if _, err := s.Get(context.Background(), "/a.html"); !errors.Is(err, ports.ErrDocumentNotFound) {
		t.Errorf("err = %v, want ErrDocumentNotFound", err)
	}
}
