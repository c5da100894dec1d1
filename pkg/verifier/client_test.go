package verifier_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shpitdev/mailprospect/internal/mockverifier"
	"github.com/shpitdev/mailprospect/pkg/verifier"
)

func newClient(t *testing.T, mock *mockverifier.Server) *verifier.Client {
	t.Helper()
	ts := httptest.NewServer(mock.Handler())
	t.Cleanup(ts.Close)

	c, err := verifier.NewClient(verifier.Config{
		BaseURL: ts.URL + "/api",
		APIKey:  "test-key",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

func TestUploadProgressDownload(t *testing.T) {
	mock := mockverifier.New()
	mock.RequireKey("test-key")
	c := newClient(t, mock)
	ctx := context.Background()

	payload := []byte("1,john@acme.com\n2,info@techcorp.io\n")
	fileID, err := c.Upload(ctx, "leads.txt", payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fileID <= 0 {
		t.Fatalf("unexpected file id: %d", fileID)
	}
	uploads := mock.Uploads()
	if len(uploads) != 1 || uploads[0].Filename != "leads.txt" || string(uploads[0].Bytes) != string(payload) {
		t.Fatalf("unexpected uploads: %#v", uploads)
	}

	p, err := c.Progress(ctx, fileID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Status != verifier.StatusFinished || p.Percent != 100 {
		t.Fatalf("unexpected progress: %#v", p)
	}
	if p.CreditsCharged != 2 {
		t.Fatalf("unexpected credits: %#v", p)
	}

	b, err := c.Download(ctx, fileID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "result,line,email\nok,1,john@acme.com\nok,2,info@techcorp.io\n"
	if string(b) != want {
		t.Fatalf("got %q, want %q", string(b), want)
	}
}

func TestProgressBeforeFinish(t *testing.T) {
	mock := mockverifier.New()
	mock.FinishAfterPolls = 2
	c := newClient(t, mock)
	ctx := context.Background()

	fileID, err := c.Upload(ctx, "x.txt", []byte("1,a@b.co\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, err := c.Progress(ctx, fileID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Status == verifier.StatusFinished {
		t.Fatalf("finished too early: %#v", p)
	}

	if _, err := c.Download(ctx, fileID); err == nil {
		t.Fatalf("expected download of unfinished job to fail")
	}

	p, err = c.Progress(ctx, fileID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Status != verifier.StatusFinished {
		t.Fatalf("expected finished, got %#v", p)
	}
}

func TestHTTPErrorIsTypedAndRedacted(t *testing.T) {
	mock := mockverifier.New()
	mock.RequireKey("other-key")
	c := newClient(t, mock)

	_, err := c.Progress(context.Background(), 1)
	var he *verifier.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if he.StatusCode != 401 || he.Op != "fileinfo" {
		t.Fatalf("unexpected error: %#v", he)
	}
	if strings.Contains(err.Error(), "test-key") {
		t.Fatalf("error leaks api key: %q", err.Error())
	}
}

func TestNewClientValidation(t *testing.T) {
	t.Run("requires base url", func(t *testing.T) {
		if _, err := verifier.NewClient(verifier.Config{APIKey: "k"}); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("requires api key", func(t *testing.T) {
		if _, err := verifier.NewClient(verifier.Config{BaseURL: "https://v.example/api"}); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("reads api key from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "key")
		if err := os.WriteFile(path, []byte("secret-from-file\n"), 0o600); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := verifier.NewClient(verifier.Config{BaseURL: "https://v.example/api", APIKey: path}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
