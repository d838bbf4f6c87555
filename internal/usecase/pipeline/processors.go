package pipeline

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// StopWords отклоняет пустой текст и текст, содержащий любое стоп-слово без учёта регистра.
type StopWords struct {
	words []string
}

// NewStopWords создаёт фильтр по набору стоп-слов.
func NewStopWords(words ...string) StopWords {
	lowered := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			lowered = append(lowered, w)
		}
	}
	return StopWords{words: lowered}
}

func (StopWords) Name() string { return "stop_words" }

func (s StopWords) Process(state State) (State, bool) {
	if state.Text == "" {
		return state, false
	}
	lower := strings.ToLower(state.Text)
	for _, w := range s.words {
		if strings.Contains(lower, w) {
			return state, false
		}
	}
	return state, true
}

// Fragment — пара замены подстроки.
type Fragment struct {
	From string
	To   string
}

// ReplaceFragments заменяет подстроки. Длинные фрагменты применяются первыми,
// чтобы результат не зависел от порядка объявления.
type ReplaceFragments struct {
	replacer *strings.Replacer
}

// NewReplaceFragments создаёт процессор замены.
func NewReplaceFragments(fragments ...Fragment) ReplaceFragments {
	sorted := make([]Fragment, len(fragments))
	copy(sorted, fragments)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i].From) > len(sorted[j].From) })
	pairs := make([]string, 0, len(sorted)*2)
	for _, f := range sorted {
		pairs = append(pairs, f.From, f.To)
	}
	return ReplaceFragments{replacer: strings.NewReplacer(pairs...)}
}

func (ReplaceFragments) Name() string { return "replace_emoji" }

func (r ReplaceFragments) Process(state State) (State, bool) {
	state.Text = r.replacer.Replace(state.Text)
	return state, true
}

// CodeRange — включительный диапазон кодовых точек.
type CodeRange struct {
	Lo rune
	Hi rune
}

// StripRunes удаляет все кодовые точки из заданных диапазонов.
type StripRunes struct {
	ranges []CodeRange
}

// NewStripRunes создаёт процессор удаления символов.
func NewStripRunes(ranges ...CodeRange) StripRunes {
	owned := make([]CodeRange, len(ranges))
	copy(owned, ranges)
	return StripRunes{ranges: owned}
}

func (StripRunes) Name() string { return "strip_emoji" }

func (s StripRunes) contains(r rune) bool {
	for _, cr := range s.ranges {
		if r >= cr.Lo && r <= cr.Hi {
			return true
		}
	}
	return false
}

func (s StripRunes) Process(state State) (State, bool) {
	t := runes.Remove(runes.Predicate(s.contains))
	out, _, err := transform.String(t, state.Text)
	if err != nil {
		return state, false
	}
	state.Text = out
	return state, true
}

var codePattern = regexp.MustCompile(`^[A-Z0-9]{8}$`)

// CryptoboxCodes выделяет из текста коды: 8 символов A-Z0-9, хотя бы одна цифра и одна буква.
type CryptoboxCodes struct{}

func (CryptoboxCodes) Name() string { return "cryptobox_codes" }

func (CryptoboxCodes) Process(state State) (State, bool) {
	codes := make([]string, 0)
	for _, chunk := range strings.Fields(state.Text) {
		if IsCryptoboxCode(chunk) {
			codes = append(codes, chunk)
		}
	}
	state.Codes = codes
	return state, true
}

// IsCryptoboxCode проверяет одиночный токен.
func IsCryptoboxCode(token string) bool {
	if !codePattern.MatchString(token) {
		return false
	}
	hasDigit := strings.ContainsAny(token, "0123456789")
	hasLetter := strings.ContainsAny(token, "ABCDEFGHIJKLMNOPQRSTUVWXYZ")
	return hasDigit && hasLetter
}
