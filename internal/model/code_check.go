package model

// Language is the code-runner language identifier.
type Language string

const (
	LanguagePython Language = "PYTHON"
	LanguageJava   Language = "JAVA"
	LanguageJS     Language = "JS"
	LanguageCPP    Language = "CPP"
)

var editorLanguages = map[string]Language{
	"python":     LanguagePython,
	"java":       LanguageJava,
	"javascript": LanguageJS,
	"cpp":        LanguageCPP,
	"PYTHON":     LanguagePython,
	"JAVA":       LanguageJava,
	"JS":         LanguageJS,
	"CPP":        LanguageCPP,
}

// ParseLanguage maps an editor language name to a runner language.
// Unknown names fall back to PYTHON.
func ParseLanguage(name string) Language {
	if l, ok := editorLanguages[name]; ok {
		return l
	}
	return LanguagePython
}

// CodeCheckRequest is sent to the code runner.
type CodeCheckRequest struct {
	TaskID   string   `json:"taskId"`
	Language Language `json:"language"`
	Source   string   `json:"source"`
}

// CodeCheckResult is the latest runner report for one algorithmic task.
type CodeCheckResult struct {
	Status       string           `json:"status"`
	CompileError *string          `json:"compileError,omitempty"`
	RuntimeError *string          `json:"runtimeError,omitempty"`
	Results      []TestCaseResult `json:"results"`
}

// TestCaseResult is one sub-test outcome.
type TestCaseResult struct {
	TestIndex int    `json:"testIndex"`
	Status    string `json:"status"`
	Expected  string `json:"expected"`
	Got       string `json:"got"`
	Stderr    string `json:"stderr,omitempty"`
}
