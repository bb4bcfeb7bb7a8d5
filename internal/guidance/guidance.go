// Package guidance turns quality reasons and session outcomes into localized
// operator instructions.
package guidance

import (
	"embed"
	"fmt"
	"strings"

	"github.com/kozaktomas/face-checkin/internal/quality"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var locales embed.FS

// Message ids beyond the quality reasons.
const (
	MsgLookAtCamera    = "look_at_camera"
	MsgHoldStill       = "hold_still"
	MsgCaptured        = "captured"
	MsgCheckedIn       = "checked_in"
	MsgNotRecognized   = "not_recognized"
	MsgAlreadyRecorded = "already_recorded"
	MsgRecordFailed    = "record_failed"
	MsgEnrolled        = "enrolled"
)

// ReasonID maps a quality reason to its message id ("too dark" -> "too_dark").
func ReasonID(r quality.Reason) string {
	if r == quality.ReasonNone {
		return MsgLookAtCamera
	}
	return strings.ReplaceAll(string(r), " ", "_")
}

// Localizer renders guidance messages.
type Localizer struct {
	bundle    *i18n.Bundle
	fallback  string
	languages []string
}

// New loads the embedded message files. defaultLang is used when none of the
// requested languages is available.
func New(defaultLang string) (*Localizer, error) {
	tag, err := language.Parse(defaultLang)
	if err != nil {
		return nil, fmt.Errorf("invalid default language %q: %w", defaultLang, err)
	}

	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("yaml", yaml.Unmarshal)

	entries, err := locales.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("reading locales: %w", err)
	}
	var langs []string
	for _, e := range entries {
		mf, err := bundle.LoadMessageFileFS(locales, "locales/"+e.Name())
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", e.Name(), err)
		}
		langs = append(langs, mf.Tag.String())
	}

	return &Localizer{bundle: bundle, fallback: tag.String(), languages: langs}, nil
}

// Languages returns the loaded language tags.
func (l *Localizer) Languages() []string {
	return l.languages
}

// Message renders id in the first supported language of langs. Entries may be
// tags or whole Accept-Language header values. Unknown ids render as the id.
func (l *Localizer) Message(id string, data map[string]any, langs ...string) string {
	loc := i18n.NewLocalizer(l.bundle, append(langs, l.fallback)...)
	msg, err := loc.Localize(&i18n.LocalizeConfig{MessageID: id, TemplateData: data})
	if err != nil {
		return id
	}
	return msg
}

// Reason renders the instruction for a failed quality check.
func (l *Localizer) Reason(r quality.Reason, langs ...string) string {
	return l.Message(ReasonID(r), nil, langs...)
}
