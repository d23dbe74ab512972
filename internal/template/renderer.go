package template

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"renonotify/internal/model"
)

// SMSMaxLength is the ceiling for rendered SMS content. Longer content is a
// configuration defect, not a provider error.
const SMSMaxLength = 1600

type RenderErrorKind string

const (
	MissingVariable RenderErrorKind = "MISSING_VARIABLE"
	ContentTooLong  RenderErrorKind = "CONTENT_TOO_LONG"
	EmptyTemplate   RenderErrorKind = "EMPTY_TEMPLATE"
)

// RenderError marks a non-retryable configuration defect in a template or
// its inputs. The dispatcher fails the entry immediately without a provider
// call.
type RenderError struct {
	Kind     RenderErrorKind
	Variable string
}

func (e *RenderError) Error() string {
	if e.Variable != "" {
		return fmt.Sprintf("render error %s: %s", e.Kind, e.Variable)
	}
	return fmt.Sprintf("render error %s", e.Kind)
}

// RenderedContent is channel-appropriate output: subject+HTML for email, a
// single text block for SMS.
type RenderedContent struct {
	Subject  string
	BodyHTML string
	Text     string
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// Render expands a template for one channel. Every variable the template
// declares must resolve in payload or recipientContext; placeholders not
// declared are optional and render empty.
func Render(
	tmpl *model.NotificationTemplate,
	channel model.Channel,
	payload map[string]interface{},
	recipientContext map[string]interface{},
) (*RenderedContent, error) {
	resolve := func(name string) (string, bool) {
		if v, ok := lookupPath(recipientContext, name); ok {
			return stringify(v), true
		}
		if v, ok := lookupPath(payload, name); ok {
			return stringify(v), true
		}
		return "", false
	}

	for _, required := range tmpl.Variables {
		if _, ok := resolve(required); !ok {
			return nil, &RenderError{Kind: MissingVariable, Variable: required}
		}
	}

	substitute := func(s string) string {
		return placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
			name := placeholderRe.FindStringSubmatch(match)[1]
			v, _ := resolve(name)
			return v
		})
	}

	switch channel {
	case model.ChannelSMS:
		if strings.TrimSpace(tmpl.SMSContent) == "" {
			return nil, &RenderError{Kind: EmptyTemplate}
		}
		text := substitute(tmpl.SMSContent)
		if len(text) > SMSMaxLength {
			return nil, &RenderError{Kind: ContentTooLong}
		}
		return &RenderedContent{Text: text}, nil
	default:
		if strings.TrimSpace(tmpl.EmailContentHTML) == "" {
			return nil, &RenderError{Kind: EmptyTemplate}
		}
		return &RenderedContent{
			Subject:  substitute(tmpl.EmailSubject),
			BodyHTML: substitute(tmpl.EmailContentHTML),
		}, nil
	}
}

// FromDirectContent converts pre-rendered channel content into
// RenderedContent, bypassing the template path entirely.
func FromDirectContent(channel model.Channel, content model.ChannelContent) (*RenderedContent, error) {
	switch channel {
	case model.ChannelSMS:
		if strings.TrimSpace(content.Text) == "" {
			return nil, &RenderError{Kind: EmptyTemplate}
		}
		if len(content.Text) > SMSMaxLength {
			return nil, &RenderError{Kind: ContentTooLong}
		}
		return &RenderedContent{Text: content.Text}, nil
	default:
		if strings.TrimSpace(content.BodyHTML) == "" {
			return nil, &RenderError{Kind: EmptyTemplate}
		}
		return &RenderedContent{Subject: content.Subject, BodyHTML: content.BodyHTML}, nil
	}
}

func lookupPath(m map[string]interface{}, path string) (interface{}, bool) {
	if m == nil || path == "" {
		return nil, false
	}

	parts := strings.Split(path, ".")
	var current interface{} = m
	for _, part := range parts {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
