package mailer

import (
	"bytes"
	"strings"
	"testing"
)

func TestRenderUsesBuiltinTemplate(t *testing.T) {
	// A directory with no templates falls through to the compiled-in copy.
	r := NewTemplateRender(t.TempDir())
	out, err := r.Render("share_notice", map[string]interface{}{
		"SharerName":   "Alice",
		"ResourceName": "Design Vault",
		"OpenURL":      "https://app.example.com",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Alice") || !strings.Contains(out, "Design Vault") {
		t.Fatalf("rendered template missing fields:\n%s", out)
	}
	if !strings.Contains(out, "https://app.example.com") {
		t.Fatal("rendered template missing open link")
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	r := NewTemplateRender(t.TempDir())
	if _, err := r.Render("no_such_notice", nil); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestMessageContentTypeFollowsBody(t *testing.T) {
	m := &SMTPMailer{From: "noreply@example.com"}

	html := m.buildMessage("to@example.com", "subject", "<p>hi</p>", contentTypeHTML)
	if !bytes.Contains(html, []byte("Content-Type: text/html")) {
		t.Fatalf("html message carries wrong content type:\n%s", html)
	}

	plain := m.buildMessage("to@example.com", "subject", "hi", contentTypePlain)
	if !bytes.Contains(plain, []byte("Content-Type: text/plain")) {
		t.Fatalf("plain message carries wrong content type:\n%s", plain)
	}
	if !bytes.HasSuffix(plain, []byte("\r\n\r\nhi")) {
		t.Fatalf("body not separated from headers:\n%s", plain)
	}
}
