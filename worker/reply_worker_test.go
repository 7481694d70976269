package worker

import (
	"bytes"
	"strings"
	"testing"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
)

// message builds an imap.Message whose body literal is stored under its own
// section-name pointer, the way the imap client populates fetched messages.
func message(raw string) *imap.Message {
	stored := &imap.BodySectionName{}
	return &imap.Message{
		Body: map[*imap.BodySectionName]imap.Literal{
			stored: bytes.NewBufferString(raw),
		},
	}
}

func TestExtractSnippetReadsPlainTextPart(t *testing.T) {
	raw := "From: maria@acme.com\r\n" +
		"To: sales@ourco.test\r\n" +
		"Subject: Re: intro\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Thanks, send me the details.\r\n"

	assert.Equal(t, "Thanks, send me the details.", extractSnippet(message(raw)))
}

func TestExtractSnippetFallsBackToHTML(t *testing.T) {
	raw := "Subject: Re: intro\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>Interested</p>\r\n"

	assert.Equal(t, "<p>Interested</p>", extractSnippet(message(raw)))
}

func TestExtractSnippetTruncatesLongBodies(t *testing.T) {
	raw := "Subject: Re: intro\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		strings.Repeat("a", replySnippetLimit+100)

	assert.Len(t, extractSnippet(message(raw)), replySnippetLimit)
}

func TestExtractSnippetEmptyWithoutBody(t *testing.T) {
	assert.Empty(t, extractSnippet(&imap.Message{}))
}
