package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"deskmate/pkg/logger"
	"deskmate/pkg/providers"
	"deskmate/pkg/task"
)

const classifyPromptTemplate = `Ты — классификатор команд десктопного ассистента.
Определи действие для команды пользователя и ответь строго одним JSON-объектом без пояснений.

Допустимые значения поля "action": %s.

Поля ответа:
  "action": одно из допустимых значений
  "confidence": число от 0 до 1
  "params": объект с параметрами действия
    OPEN_APP / CLOSE_APP: {"app": "<имя приложения>"}
    SEARCH_LOCAL: {"query": "<поисковые слова>", "open_first": true|false}
    SEARCH_WEB: {"query": "<поисковые слова>", "open_first": true|false}
    OPEN_PATH: {"path": "<путь>"}
    UNKNOWN: {"message": "<уточняющий вопрос пользователю>"}

Команда пользователя: %s`

type llmClassification struct {
	Action     string                 `json:"action"`
	Confidence float64                `json:"confidence"`
	Params     map[string]interface{} `json:"params"`
}

// classifyLLM asks the configured model to label the utterance when rule
// scoring gave no confident answer. Malformed JSON is repaired before
// parsing; an unreachable backend surfaces as an error to the caller.
func (inf *Inferencer) classifyLLM(ctx context.Context, utterance, model string) (task.Descriptor, error) {
	if model == "" {
		model = inf.cfg.Agent.Model
	}
	prompt := fmt.Sprintf(classifyPromptTemplate,
		strings.Join(KnownActions(), ", "),
		utterance)

	raw, err := providers.Complete(ctx, inf.provider, prompt, model)
	if err != nil {
		return task.Descriptor{}, fmt.Errorf("classify %q: %w", utterance, err)
	}

	classification, err := parseClassification(raw)
	if err != nil {
		logger.WarnCF("intent", "unparseable llm classification", map[string]interface{}{
			"raw":   truncateForLog(raw),
			"error": err.Error(),
		})
		return unknown(utterance, "clarify", "Не понял команду, сформулируйте иначе."), nil
	}

	action, ok := validAction(classification.Action)
	if !ok {
		return unknown(utterance, "clarify", "Не понял команду, сформулируйте иначе."), nil
	}

	params := classification.Params
	if params == nil {
		params = map[string]interface{}{}
	}
	if action == task.ActionUnknown {
		if _, has := params["message"]; !has {
			params["message"] = "Не понял команду, сформулируйте иначе."
		}
		params["reason"] = "clarify"
	}

	confidence := classification.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return task.Descriptor{
		Action:       action,
		Confidence:   confidence,
		RawUtterance: utterance,
		Params:       params,
	}, nil
}

// parseClassification extracts the first JSON object from the model reply
// and repairs common formatting damage (markdown fences, trailing commas,
// single quotes) before unmarshalling.
func parseClassification(raw string) (llmClassification, error) {
	var out llmClassification

	candidate := extractJSONObject(raw)
	if candidate == "" {
		return out, fmt.Errorf("no JSON object in reply")
	}

	if err := json.Unmarshal([]byte(candidate), &out); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(candidate)
		if repairErr != nil {
			return out, fmt.Errorf("unmarshal: %v, repair: %v", err, repairErr)
		}
		if err := json.Unmarshal([]byte(repaired), &out); err != nil {
			return out, fmt.Errorf("unmarshal repaired: %w", err)
		}
	}
	if out.Action == "" {
		return out, fmt.Errorf("missing action field")
	}
	return out, nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}

func truncateForLog(s string) string {
	const limit = 200
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
