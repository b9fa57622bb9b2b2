package dataset

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// SupportedLanguages are the language codes XTTS v2 can be fine-tuned on.
var SupportedLanguages = []string{
	"en", "es", "fr", "de", "it", "pt", "pl", "tr", "ru", "nl", "cs", "ar", "zh", "hu", "ko", "ja", "hi",
}

// NormalizeLanguage validates code as a BCP 47 tag whose base language XTTS
// supports and returns it lower-cased ("EN" -> "en", "zh-CN" -> "zh-cn").
func NormalizeLanguage(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", fmt.Errorf("language is required")
	}
	tag, err := language.Parse(code)
	if err != nil {
		return "", fmt.Errorf("invalid language %q: %w", code, err)
	}
	base, _ := tag.Base()
	for _, l := range SupportedLanguages {
		if base.String() == l {
			return strings.ToLower(code), nil
		}
	}
	return "", fmt.Errorf("language %q is not supported (supported: %s)", code, strings.Join(SupportedLanguages, ", "))
}

// WhisperLanguage maps a dataset language to the code Whisper expects ("zh-cn" -> "zh").
func WhisperLanguage(lang string) string {
	tag, err := language.Parse(lang)
	if err != nil {
		return lang
	}
	base, _ := tag.Base()
	return base.String()
}

// CleanTranscript normalizes a Whisper segment for the manifest: NFC form,
// collapsed whitespace, no pipe characters (the manifest delimiter).
func CleanTranscript(text string) string {
	text = norm.NFC.String(text)
	text = strings.ReplaceAll(text, "|", " ")
	return strings.Join(strings.FieldsFunc(text, unicode.IsSpace), " ")
}
