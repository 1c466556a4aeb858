package storage

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("template not found")
	ErrDuplicateName = errors.New("template name already exists")
	ErrInvalidName   = errors.New("template name is empty")
	// ErrInvalidButton reports a template with only one of button text/url.
	ErrInvalidButton = errors.New("button text and url must both be set or both be empty")
)

type Config struct {
	Driver      string
	Path        string // sqlite/file
	DSN         string // postgres
	BusyTimeout time.Duration
}

type Template struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Text       string    `json:"text"`
	ImagePath  string    `json:"image_path,omitempty"`
	ButtonText string    `json:"button_text,omitempty"`
	ButtonURL  string    `json:"button_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (t Template) HasImage() bool  { return t.ImagePath != "" }
func (t Template) HasButton() bool { return t.ButtonText != "" && t.ButtonURL != "" }

func (t Template) validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return ErrInvalidName
	}
	if (t.ButtonText == "") != (t.ButtonURL == "") {
		return ErrInvalidButton
	}
	return nil
}

// NewTemplate holds the fields collected when a template is created.
type NewTemplate struct {
	Name       string
	Text       string
	ImagePath  string
	ButtonText string
	ButtonURL  string
}

func (n NewTemplate) template(now time.Time) Template {
	return Template{
		Name:       n.Name,
		Text:       n.Text,
		ImagePath:  n.ImagePath,
		ButtonText: n.ButtonText,
		ButtonURL:  n.ButtonURL,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Patch changes a subset of fields. A nil pointer keeps the current value;
// a pointer to "" clears it.
type Patch struct {
	Text       *string
	ImagePath  *string
	ButtonText *string
	ButtonURL  *string
}

func (p Patch) IsEmpty() bool {
	return p.Text == nil && p.ImagePath == nil && p.ButtonText == nil && p.ButtonURL == nil
}

// Apply returns t with the patch applied. t itself is not modified.
func (p Patch) Apply(t Template) Template {
	if p.Text != nil {
		t.Text = *p.Text
	}
	if p.ImagePath != nil {
		t.ImagePath = *p.ImagePath
	}
	if p.ButtonText != nil {
		t.ButtonText = *p.ButtonText
	}
	if p.ButtonURL != nil {
		t.ButtonURL = *p.ButtonURL
	}
	return t
}

// Ptr is a convenience for building patches.
func Ptr(s string) *string { return &s }
