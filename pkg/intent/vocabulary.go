package intent

// Vocabulary tables for rule-based scoring. Russian is the primary input
// language, with English equivalents where users habitually mix them.

var stopWords = map[string]bool{
	"а": true, "еще": true, "ещё": true, "в": true, "во": true,
	"это": true, "этот": true, "эта": true, "эту": true, "эти": true,
	"тот": true, "та": true, "то": true, "на": true,
	"надо": true, "нужно": true, "нужен": true, "нужна": true, "нужны": true,
	"мне": true, "пожалуйста": true, "давай": true, "да": true, "нет": true,
	"хочу": true, "хотел": true, "хотела": true, "можно": true, "можешь": true,
	"дай": true, "дайте": true, "покажи": true, "показать": true,
	"посмотри": true, "посмотреть": true, "глянь": true, "глянуть": true,
	"открой": true, "открыть": true, "запусти": true, "запустить": true,
	"просто": true, "там": true, "его": true, "ее": true, "её": true,
	"их": true, "по": true, "из": true, "для": true, "как": true,
	"что": true, "какой": true, "какая": true, "какие": true,
	"тут": true, "вот": true, "бы": true, "быть": true,
	"плиз": true, "pls": true, "please": true, "очень": true, "прям": true,
	"the": true, "a": true, "an": true, "me": true, "my": true,
	"open": true, "show": true, "find": true, "some": true,
	"найди": true, "найти": true, "поищи": true, "поищем": true,
	"ищи": true, "искать": true, "отыщи": true, "search": true,
	"интернете": true, "сети": true, "гугле": true, "яндексе": true,
}

var genericFileWords = map[string]bool{
	"файл": true, "файлы": true, "папка": true, "папку": true,
	"каталог": true, "документ": true, "документы": true,
	"file": true, "files": true, "folder": true,
}

var searchMarkers = []string{
	"найди", "найти", "поищи", "поищем", "ищи", "поиск", "искать", "отыщи",
	"search for", "look for", "find",
}

var negativeSearchMarkers = []string{
	"не ищи", "не надо искать", "без интернета",
}

var webSearchHints = []string{
	"в интернете", "в сети", "в гугле", "в google", "в яндексе",
	"в yandex", "в бинг", "в bing", "в вебе", "on the web", "online",
}

var webKeywords = map[string]bool{
	"документация": true, "страница": true, "страничку": true, "сайт": true,
	"википедия": true, "wiki": true, "docs": true, "официальный": true,
	"официальную": true, "блог": true, "мануал": true, "руководство": true,
	"форум": true, "гайд": true, "tutorial": true, "инструкция": true,
	"описание": true, "release": true, "website": true, "page": true,
}

type fileDomain struct {
	keywords     []string
	extensions   []string
	defaultTerms []string
}

var fileDomains = map[string]fileDomain{
	"documents": {
		keywords: []string{
			"документ", "документы", "отчёт", "отчет", "смета", "invoice",
			"инвойс", "контракт", "презентация", "спецификация", "протокол",
			"план", "таблица", "заметка", "report", "document",
		},
		extensions:   []string{".pdf", ".doc", ".docx", ".txt", ".rtf", ".xlsx", ".xls", ".ppt", ".pptx"},
		defaultTerms: []string{"pdf", "docx", "xlsx"},
	},
	"images": {
		keywords: []string{
			"фото", "фотку", "фотография", "картинка", "картинку",
			"изображение", "скрин", "скриншот", "снимок", "превью",
			"photo", "picture", "screenshot", "image",
		},
		extensions:   []string{".png", ".jpg", ".jpeg", ".bmp", ".gif", ".webp", ".svg"},
		defaultTerms: []string{"png", "jpg", "screenshot"},
	},
	"audio": {
		keywords: []string{
			"музыка", "музыку", "трек", "песня", "песню", "аудио",
			"music", "song", "audio", "sound",
		},
		extensions:   []string{".mp3", ".wav", ".flac", ".aac", ".ogg"},
		defaultTerms: []string{"mp3", "audio"},
	},
	"video": {
		keywords: []string{
			"видео", "ролик", "фильм", "запись", "клип", "video", "movie",
		},
		extensions:   []string{".mp4", ".mkv", ".avi", ".mov", ".wmv", ".webm"},
		defaultTerms: []string{"mp4", "video"},
	},
	"archives": {
		keywords:     []string{"архив", "архивы", "backup", "бэкап", "archive"},
		extensions:   []string{".zip", ".rar", ".7z", ".tar", ".gz"},
		defaultTerms: []string{"zip", "rar"},
	},
}

// extraAppAliases extend the configured alias map with phrasings users reach
// for when they do not name the application ("something to calculate").
var extraAppAliases = map[string][]string{
	"calculator": {"калькулятор", "посчитать", "calculator", "calc"},
	"editor":     {"блокнот", "заметки", "notepad", "текстовый редактор"},
	"browser":    {"браузер", "chrome", "хром", "browser"},
	"files":      {"проводник", "файловый менеджер", "file manager"},
}

// DomainExtensions exposes the extension filter for a detected file domain.
func DomainExtensions(domain string) []string {
	d, ok := fileDomains[domain]
	if !ok {
		return nil
	}
	out := make([]string, len(d.extensions))
	copy(out, d.extensions)
	return out
}
