package whisper

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrUnsupportedLanguage = errors.New("unsupported language")

// languages is the whisper multilingual vocabulary, ISO 639-1 style code to English name.
var languages = map[string]string{
	"en": "english", "zh": "chinese", "de": "german", "es": "spanish", "ru": "russian",
	"ko": "korean", "fr": "french", "ja": "japanese", "pt": "portuguese", "tr": "turkish",
	"pl": "polish", "ca": "catalan", "nl": "dutch", "ar": "arabic", "sv": "swedish",
	"it": "italian", "id": "indonesian", "hi": "hindi", "fi": "finnish", "vi": "vietnamese",
	"he": "hebrew", "uk": "ukrainian", "el": "greek", "ms": "malay", "cs": "czech",
	"ro": "romanian", "da": "danish", "hu": "hungarian", "ta": "tamil", "no": "norwegian",
	"th": "thai", "ur": "urdu", "hr": "croatian", "bg": "bulgarian", "lt": "lithuanian",
	"la": "latin", "mi": "maori", "ml": "malayalam", "cy": "welsh", "sk": "slovak",
	"te": "telugu", "fa": "persian", "lv": "latvian", "bn": "bengali", "sr": "serbian",
	"az": "azerbaijani", "sl": "slovenian", "kn": "kannada", "et": "estonian", "mk": "macedonian",
	"br": "breton", "eu": "basque", "is": "icelandic", "hy": "armenian", "ne": "nepali",
	"mn": "mongolian", "bs": "bosnian", "kk": "kazakh", "sq": "albanian", "sw": "swahili",
	"gl": "galician", "mr": "marathi", "pa": "punjabi", "si": "sinhala", "km": "khmer",
	"sn": "shona", "yo": "yoruba", "so": "somali", "af": "afrikaans", "oc": "occitan",
	"ka": "georgian", "be": "belarusian", "tg": "tajik", "sd": "sindhi", "gu": "gujarati",
	"am": "amharic", "yi": "yiddish", "lo": "lao", "uz": "uzbek", "fo": "faroese",
	"ht": "haitian creole", "ps": "pashto", "tk": "turkmen", "nn": "nynorsk", "mt": "maltese",
	"sa": "sanskrit", "lb": "luxembourgish", "my": "myanmar", "bo": "tibetan", "tl": "tagalog",
	"mg": "malagasy", "as": "assamese", "tt": "tatar", "haw": "hawaiian", "ln": "lingala",
	"ha": "hausa", "ba": "bashkir", "jw": "javanese", "su": "sundanese", "yue": "cantonese",
}

var codesByName = func() map[string]string {
	out := make(map[string]string, len(languages))
	for code, name := range languages {
		out[name] = code
	}
	return out
}()

// Languages returns the supported language codes in sorted order.
func Languages() []string {
	codes := make([]string, 0, len(languages))
	for code := range languages {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func LanguageName(code string) string {
	return languages[code]
}

// NormalizeLanguage validates a caller hint. Empty and "auto" mean detect.
func NormalizeLanguage(hint string) (string, error) {
	code := strings.ToLower(strings.TrimSpace(hint))
	if code == "" || code == "auto" {
		return "", nil
	}
	if _, ok := languages[code]; ok {
		return code, nil
	}
	if byName, ok := codesByName[code]; ok {
		return byName, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnsupportedLanguage, hint)
}

// canonicalLanguage maps whatever an engine reported onto a code.
func canonicalLanguage(reported string) string {
	code := strings.ToLower(strings.TrimSpace(reported))
	if code == "" {
		return "unknown"
	}
	if _, ok := languages[code]; ok {
		return code
	}
	if byName, ok := codesByName[code]; ok {
		return byName
	}
	return code
}
