package email

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePlainText(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		contains []string
		excludes []string
	}{
		{
			name:     "simple paragraph",
			html:     "<p>Hello, World!</p>",
			contains: []string{"Hello, World!"},
			excludes: []string{"<p>", "</p>"},
		},
		{
			name:     "line breaks",
			html:     "Line 1<br>Line 2<br/>Line 3<br />Line 4",
			contains: []string{"Line 1", "Line 2", "Line 3", "Line 4"},
			excludes: []string{"<br>", "<br/>", "<br />"},
		},
		{
			name:     "headings",
			html:     "<h1>Title</h1><h2>Subtitle</h2><h3>Section</h3>",
			contains: []string{"Title", "Subtitle", "Section"},
			excludes: []string{"<h1>", "</h1>", "<h2>", "</h2>", "<h3>", "</h3>"},
		},
		{
			name:     "nested tags",
			html:     "<div><p><strong>Bold text</strong> and <em>italic</em></p></div>",
			contains: []string{"Bold text", "and", "italic"},
			excludes: []string{"<div>", "<p>", "<strong>", "<em>"},
		},
		{
			name:     "HTML entities",
			html:     "Price: $10 &amp; shipping &nbsp; included &lt;$5&gt; &quot;free&quot;",
			contains: []string{"Price: $10 & shipping", "included <$5>", "\"free\""},
			excludes: []string{"&amp;", "&nbsp;", "&lt;", "&gt;", "&quot;"},
		},
		{
			name:     "links stripped",
			html:     `<a href="https://example.com">Click here</a>`,
			contains: []string{"Click here"},
			excludes: []string{"<a", "href", "</a>"},
		},
		{
			name:     "table cells",
			html:     "<table><tr><td>Subtotal</td><td>USD 80.00</td></tr></table>",
			contains: []string{"Subtotal USD 80.00"},
			excludes: []string{"<td>", "<tr>"},
		},
		{
			name:     "empty content",
			html:     "",
			contains: []string{},
			excludes: []string{},
		},
		{
			name: "email template structure",
			html: `
				<div class="email-content">
					<h2>Order received</h2>
					<p>Your suppliers have been notified.</p>
					<p>Pay <a href="https://example.com/invoice">here</a> once confirmed.</p>
				</div>
			`,
			contains: []string{"Order received", "Your suppliers have been notified", "here", "once confirmed"},
			excludes: []string{"<div", "<h2>", "<p>", "<a href"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := generatePlainText(tt.html)

			for _, want := range tt.contains {
				if !strings.Contains(result, want) {
					t.Errorf("generatePlainText() result should contain %q, got: %q", want, result)
				}
			}

			for _, exclude := range tt.excludes {
				if strings.Contains(result, exclude) {
					t.Errorf("generatePlainText() result should not contain %q, got: %q", exclude, result)
				}
			}
		})
	}
}

func TestGeneratePlainText_WhitespaceHandling(t *testing.T) {
	html := `
		<p>   Line with spaces   </p>
		<p></p>
		<p>Another line</p>
	`

	result := generatePlainText(html)

	// Should not have empty lines (they get filtered)
	lines := strings.Split(result, "\n")
	for _, line := range lines {
		if strings.TrimSpace(line) == "" && line != "" {
			t.Error("generatePlainText() should not have blank lines with only whitespace")
		}
	}

	// Should contain the actual content
	if !strings.Contains(result, "Line with spaces") {
		t.Error("generatePlainText() should contain trimmed content")
	}
	if !strings.Contains(result, "Another line") {
		t.Error("generatePlainText() should contain 'Another line'")
	}
}

type captureSender struct {
	sent []*Email
	err  error
}

func (c *captureSender) Send(_ context.Context, e *Email) (string, error) {
	c.sent = append(c.sent, e)
	if c.err != nil {
		return "", c.err
	}
	return "msg-1", nil
}

func TestService_Deliver(t *testing.T) {
	sender := &captureSender{}
	svc := NewService(sender, "orders@example.com", "Chandlery", nil)

	id, err := svc.Deliver(context.Background(), "order.created.customer",
		[]string{"crew@example.com"}, "Order received", "<p>Thanks</p>", "")
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)

	require.Len(t, sender.sent, 1)
	got := sender.sent[0]
	assert.Equal(t, "Chandlery <orders@example.com>", got.From)
	assert.Equal(t, "Thanks", got.TextBody)
	assert.Equal(t, "order.created.customer", got.Tag())
}

func TestService_Deliver_Errors(t *testing.T) {
	svc := NewService(&captureSender{}, "orders@example.com", "", nil)
	_, err := svc.Deliver(context.Background(), "x", nil, "s", "h", "")
	assert.ErrorIs(t, err, ErrNoRecipients)

	failing := NewService(&captureSender{err: errors.New("relay refused")}, "orders@example.com", "", nil)
	_, err = failing.Deliver(context.Background(), "x", []string{"a@example.com"}, "s", "h", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay refused")
}

func TestRenderer_Render(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	t.Run("confirmation request", func(t *testing.T) {
		data := ConfirmationRequestEmail{
			Kind:         "order",
			Reference:    "ORD-1234",
			BusinessName: "Harbour Supply",
			Rows:         []Row{{Label: "Rope x 2", Value: "USD 50.00"}},
			Total:        "USD 50.00",
			ConfirmURL:   "https://example.com/confirm/abc",
			DeclineURL:   "https://example.com/decline/abc",
			ExpiresAt:    time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		}
		html, text, err := r.Render(data)
		require.NoError(t, err)
		assert.Contains(t, html, "https://example.com/confirm/abc")
		assert.Contains(t, html, "<title>Action required: confirm order ORD-1234</title>")
		assert.Contains(t, text, "Hello Harbour Supply,")
		assert.Contains(t, text, "Rope x 2 USD 50.00")
	})

	t.Run("summary escapes values", func(t *testing.T) {
		html, _, err := r.Render(SummaryEmail{
			SubjectLine: "Status update",
			Heading:     "Item shipped",
			Intro:       "<script>alert(1)</script>",
		})
		require.NoError(t, err)
		assert.NotContains(t, html, "<script>")
	})

	t.Run("ops alert", func(t *testing.T) {
		_, text, err := r.Render(OpsAlertEmail{Reference: "ORD-1", Reason: "Business cancelled a paid order"})
		require.NoError(t, err)
		assert.Contains(t, text, "Manual review needed")
	})
}

type unknownTemplate struct{}

func (unknownTemplate) Subject() string      { return "x" }
func (unknownTemplate) TemplateName() string { return "missing.html" }

func TestRenderer_UnknownTemplate(t *testing.T) {
	r := MustRenderer()
	_, _, err := r.Render(unknownTemplate{})
	require.Error(t, err)
	var ee *EmailError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, codeNotFound, ee.Code)
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "USD 88.00", FormatMoney(8800, "usd"))
	assert.Equal(t, "USD -1.05", FormatMoney(-105, "USD"))
	assert.Equal(t, "JPY 1500", FormatMoney(1500, "JPY"))
}

func TestPostmarkSender_TagFromOutboxEvent(t *testing.T) {
	var got postmarkEmail
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pm-key", r.Header.Get("X-Postmark-Server-Token"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"MessageID":"pm-1","ErrorCode":0}`))
	}))
	defer srv.Close()

	sender := NewPostmarkSender("pm-key", "orders@example.com", "outbound")
	sender.endpoint = srv.URL

	id, err := sender.Send(context.Background(), &Email{
		To:       []string{"rigger@example.com"},
		Subject:  "Confirm order CH-1A2B",
		HTMLBody: "<p>Confirm</p>",
		Headers: map[string]string{
			HeaderTag:    "order.confirmation_requested",
			"X-Order-ID": "1a2b",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "pm-1", id)
	assert.Equal(t, "order.confirmation_requested", got.Tag)
	assert.Equal(t, []postmarkHeader{{Name: "X-Order-ID", Value: "1a2b"}}, got.Headers, "the tag is not repeated as a header")
	assert.Equal(t, "orders@example.com", got.From)
}
