package pipeline

var replyGuardStopWords = []string{
	"fake", "f4ke",
	"fuck", "f4ck",
	"invalid", "wrong",
	"ban", "report",
	"blad", "syka", "suka",
}

var coinStopWords = []string{"bttc", "bnb", "btc", "usdt"}

// emojiFragments переводит эмодзи-цифры и эмодзи-буквы в ASCII.
var emojiFragments = []Fragment{
	{From: "0\uFE0F\u20E3", To: "0"},
	{From: "1\uFE0F\u20E3", To: "1"},
	{From: "2\uFE0F\u20E3", To: "2"},
	{From: "3\uFE0F\u20E3", To: "3"},
	{From: "4\uFE0F\u20E3", To: "4"},
	{From: "5\uFE0F\u20E3", To: "5"},
	{From: "6\uFE0F\u20E3", To: "6"},
	{From: "7\uFE0F\u20E3", To: "7"},
	{From: "8\uFE0F\u20E3", To: "8"},
	{From: "9\uFE0F\u20E3", To: "9"},
	{From: "0\u20E3", To: "0"},
	{From: "1\u20E3", To: "1"},
	{From: "2\u20E3", To: "2"},
	{From: "3\u20E3", To: "3"},
	{From: "4\u20E3", To: "4"},
	{From: "5\u20E3", To: "5"},
	{From: "6\u20E3", To: "6"},
	{From: "7\u20E3", To: "7"},
	{From: "8\u20E3", To: "8"},
	{From: "9\u20E3", To: "9"},
	{From: "\U0001F51F", To: "10"},
	{From: "\U0001F170\uFE0F", To: "A"},
	{From: "\U0001F171\uFE0F", To: "B"},
	{From: "\U0001F170", To: "A"},
	{From: "\U0001F171", To: "B"},
	{From: "\U0001F18E", To: "AB"},
}

// emojiRanges — пиктограммы, символы, флаги и служебные соединители.
var emojiRanges = []CodeRange{
	{Lo: 0x1F600, Hi: 0x1F64F}, // emoticons
	{Lo: 0x1F300, Hi: 0x1F5FF}, // symbols & pictographs
	{Lo: 0x1F680, Hi: 0x1F6FF}, // transport & map
	{Lo: 0x1F1E0, Hi: 0x1F1FF}, // flags
	{Lo: 0x2500, Hi: 0x2BEF},
	{Lo: 0x2702, Hi: 0x27B0},
	{Lo: 0x24C2, Hi: 0x1F251},
	{Lo: 0x1F926, Hi: 0x1F937},
	{Lo: 0x10000, Hi: 0x10FFFF},
	{Lo: 0x2640, Hi: 0x2642},
	{Lo: 0x2600, Hi: 0x2B55},
	{Lo: 0x200D, Hi: 0x200D},
	{Lo: 0x23CF, Hi: 0x23CF},
	{Lo: 0x23E9, Hi: 0x23E9},
	{Lo: 0x231A, Hi: 0x231A},
	{Lo: 0xFE0F, Hi: 0xFE0F},
	{Lo: 0x3030, Hi: 0x3030},
}

// CryptoboxStopWords возвращает копию стоп-слов цепочки извлечения кодов.
func CryptoboxStopWords() []string {
	out := make([]string, 0, len(replyGuardStopWords)+len(coinStopWords))
	out = append(out, replyGuardStopWords...)
	return append(out, coinStopWords...)
}

// ReplyGuardStopWords возвращает копию стоп-слов охранника ответов.
func ReplyGuardStopWords() []string {
	return append([]string(nil), replyGuardStopWords...)
}

// NewEmojiReplacer создаёт процессор замены эмодзи на ASCII.
func NewEmojiReplacer() ReplaceFragments {
	return NewReplaceFragments(emojiFragments...)
}

// NewEmojiStripper создаёт процессор удаления эмодзи.
func NewEmojiStripper() StripRunes {
	return NewStripRunes(emojiRanges...)
}

// NewCryptoboxPipeline собирает цепочку извлечения кодов:
// стоп-слова, замена эмодзи, удаление эмодзи, выделение кодов.
func NewCryptoboxPipeline() *Pipeline {
	return New("cryptobox",
		NewStopWords(CryptoboxStopWords()...),
		NewEmojiReplacer(),
		NewEmojiStripper(),
		CryptoboxCodes{},
	)
}

// NewReplyGuard собирает цепочку проверки ответов на сообщения с кодами.
func NewReplyGuard() *Pipeline {
	return New("reply_guard", NewStopWords(ReplyGuardStopWords()...))
}
