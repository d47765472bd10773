package apihttp

import (
	"encoding/json"
	"fmt"
	"strings"

	"crossbot/internal/pkg/symbol"
	"crossbot/internal/signal"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// RunRequest 是 POST /api/runs 的请求体。
type RunRequest struct {
	Symbol           string        `json:"symbol"`
	Interval         string        `json:"interval,omitempty"`
	Start            string        `json:"start,omitempty"`
	End              string        `json:"end,omitempty"`
	Strategy         signal.Params `json:"strategy"`
	InitialCash      float64       `json:"initial_cash,omitempty"`
	Mode             string        `json:"mode,omitempty"`
	FixedCost        float64       `json:"fixed_cost,omitempty"`
	ProportionalRate float64       `json:"proportional_rate,omitempty"`
}

const runRequestSchema = `{
  "type": "object",
  "required": ["symbol", "strategy"],
  "additionalProperties": false,
  "properties": {
    "symbol": {"type": "string", "minLength": 1},
    "interval": {"type": "string"},
    "start": {"type": "string"},
    "end": {"type": "string"},
    "initial_cash": {"type": "number", "exclusiveMinimum": 0},
    "mode": {"enum": ["long_only", "long_short"]},
    "fixed_cost": {"type": "number", "minimum": 0},
    "proportional_rate": {"type": "number", "minimum": 0, "exclusiveMaximum": 1},
    "strategy": {
      "type": "object",
      "required": ["kind"],
      "additionalProperties": false,
      "properties": {
        "kind": {"enum": ["sma", "sma_crossover", "momentum", "mom"]},
        "short": {"type": "integer", "minimum": 1},
        "long": {"type": "integer", "minimum": 2},
        "window": {"type": "integer", "minimum": 1}
      }
    }
  }
}`

func compileSchema(raw string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("run_request.json", strings.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile("run_request.json")
}

// decodeRunRequest 先做 schema 校验，再解码并校验策略参数组合。
func decodeRunRequest(schema *jsonschema.Schema, body []byte) (RunRequest, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return RunRequest{}, fmt.Errorf("请求体不是合法 JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return RunRequest{}, err
	}
	var req RunRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return RunRequest{}, err
	}
	req.Symbol = symbol.ToBinance(req.Symbol)
	if _, err := signal.New(req.Strategy); err != nil {
		return RunRequest{}, err
	}
	return req, nil
}
