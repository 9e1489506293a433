package pipeline_test

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"qgen-backend/internal/database"
	"qgen-backend/internal/llm"
	"qgen-backend/internal/llm/llmtest"
	"qgen-backend/internal/pipeline/prompts"
)

const singleChoiceReply = `{
  "task": "Какой документ подтверждает заключение договора?",
  "text": null,
  "option_1": "Акт приема-передачи",
  "option_2": "Подписанный договор",
  "option_3": "Устная договоренность",
  "option_4": "Счет-фактура",
  "outputs": 2
}`

const multiChoiceReply = `{
  "task": "Какие условия договора являются существенными?",
  "text": "Согласно статье 432 ГК РФ",
  "option_1": "Предмет договора",
  "option_2": "Цвет бумаги",
  "option_3": "Условия, названные в законе",
  "option_4": "Шрифт текста",
  "outputs": "3,1"
}`

const openReply = `{"task": "Что является предметом договора?", "outputs": "Передача имущества"}`

// router answers each pipeline call by the kind of request it is. Stage failures are
// injected by name: "generate", "sensitivity", "difficulty", "validate", "rephrase".
type router struct {
	mu       sync.Mutex
	question string
	verdicts string
	fail     map[string]error
	calls    map[string]int
}

func newRouter(question string) *router {
	return &router{
		question: question,
		verdicts: "Пункт: 1\nПункт: 1\nПункт: 1\nПункт: 1\nПункт: 1\nПункт: 1\nПункт: 1\nПункт: 1\nПункт: 1\n",
		fail:     make(map[string]error),
		calls:    make(map[string]int),
	}
}

func stageOf(req llm.Request) string {
	switch {
	case req.Format == prompts.QuestionFormat:
		return "generate"
	case req.Format == prompts.SensitivityFormat:
		return "sensitivity"
	case req.Format == prompts.DifficultyFormat:
		return "difficulty"
	case req.Format == prompts.RephraseFormat:
		return "rephrase"
	case req.System == prompts.ValidatorSystem:
		return "validate"
	}
	return "unknown"
}

func (r *router) failStage(stage string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.fail, stage)
	} else {
		r.fail[stage] = err
	}
}

func (r *router) count(stage string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[stage]
}

func (r *router) handle(_ int, req llm.Request) (string, error) {
	stage := stageOf(req)

	r.mu.Lock()
	r.calls[stage]++
	err := r.fail[stage]
	r.mu.Unlock()
	if err != nil {
		return "", err
	}

	switch stage {
	case "generate":
		return r.question, nil
	case "sensitivity":
		return `{"provocativeness_score": 1, "explanation": "Нейтральный вопрос"}`, nil
	case "difficulty":
		return `{"difficulty": 2, "explanation": "Нужно сопоставить факты"}`, nil
	case "rephrase":
		user := strings.TrimPrefix(req.User, "Переформулируй следующий вопрос:\n\nВопрос: ")
		user = strings.TrimSuffix(user, "\n\nПереформулированный вопрос:")
		return fmt.Sprintf(`{"rephrased_question": "Иными словами: %s", "original_question": "%s"}`, user, user), nil
	case "validate":
		return r.verdicts, nil
	}
	return "", fmt.Errorf("unexpected request %+v", req)
}

func (r *router) client() (*llm.Client, *llmtest.Model) {
	model := llmtest.New(r.handle)
	return llm.NewClient(model, llm.WithMaxRetries(0), llm.WithTimeout(time.Second), llm.WithInitialBackoff(time.Millisecond)), model
}

func createDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.GetMigrator(db).Migrate())
	return db
}
