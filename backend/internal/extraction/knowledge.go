package extraction

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"kgraph/backend/internal/graph"
	kgerrors "kgraph/backend/pkg/errors"
)

// Knowledge is the structured result of analyzing one text
type Knowledge struct {
	MainTopics  []string          `json:"mainTopics"`
	Subtopics   []string          `json:"subtopics"`
	Entities    []string          `json:"entities"`
	Relations   []Relation        `json:"relations" validate:"dive"`
	Sentiment   graph.Sentiment   `json:"sentiment" validate:"oneof=positive neutral negative"`
	ContextType graph.ContextType `json:"contextType" validate:"oneof=interested_in experienced_in curious_about learning discussing neutral"`
}

// Relation is an explicit relationship named by the extraction service
type Relation struct {
	From string `json:"from" validate:"required"`
	To   string `json:"to" validate:"required"`
	Type string `json:"type"`
}

// Counts returns the per-list item counts
func (k Knowledge) Counts() graph.ExtractionCounts {
	return graph.ExtractionCounts{
		MainTopics: len(k.MainTopics),
		Subtopics:  len(k.Subtopics),
		Entities:   len(k.Entities),
		Relations:  len(k.Relations),
	}
}

// IsEmpty reports whether no topics, subtopics or entities were extracted
func (k Knowledge) IsEmpty() bool {
	return len(k.MainTopics) == 0 && len(k.Subtopics) == 0 && len(k.Entities) == 0
}

// Normalized maps every label to its node id, drops duplicates and blank
// labels, and normalizes relation types.
func (k Knowledge) Normalized() Knowledge {
	out := Knowledge{
		MainTopics:  graph.NormalizeAll(k.MainTopics),
		Subtopics:   graph.NormalizeAll(k.Subtopics),
		Entities:    graph.NormalizeAll(k.Entities),
		Relations:   make([]Relation, 0, len(k.Relations)),
		Sentiment:   k.Sentiment,
		ContextType: k.ContextType,
	}
	for _, r := range k.Relations {
		from, to := graph.Normalize(r.From), graph.Normalize(r.To)
		if from == "" || to == "" {
			continue
		}
		out.Relations = append(out.Relations, Relation{
			From: from,
			To:   to,
			Type: graph.NormalizeRelationType(r.Type),
		})
	}
	return out
}

var requiredKeys = []string{"mainTopics", "subtopics", "entities", "relations", "sentiment", "contextType"}

// wire types use pointers so that JSON nulls can be told apart from values
type wireKnowledge struct {
	MainTopics  []*string       `json:"mainTopics"`
	Subtopics   []*string       `json:"subtopics"`
	Entities    []*string       `json:"entities"`
	Relations   []*wireRelation `json:"relations"`
	Sentiment   *string         `json:"sentiment"`
	ContextType *string         `json:"contextType"`
}

type wireRelation struct {
	From *string `json:"from"`
	To   *string `json:"to"`
	Type *string `json:"type"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// StripFences removes code-fence markup and any prose around the single
// JSON object in raw.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
	}
	if start, end := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}'); start >= 0 && end > start {
		s = s[start : end+1]
	}
	return s
}

// Parse turns raw service output into Knowledge. Nothing is coerced: a
// missing, extra, null or mistyped field fails with SchemaViolation and
// unparseable text fails with MalformedResponse.
func Parse(raw string) (*Knowledge, error) {
	const op = "extraction.Parse"
	payload := []byte(StripFences(raw))

	if len(payload) == 0 || !json.Valid(payload) {
		return nil, kgerrors.MalformedResponse(op, "response is not valid JSON", nil)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, kgerrors.SchemaViolation(op, "$", "payload must be a JSON object")
	}
	for _, key := range requiredKeys {
		val, ok := fields[key]
		if !ok {
			return nil, kgerrors.SchemaViolation(op, key, "missing")
		}
		if bytes.Equal(bytes.TrimSpace(val), []byte("null")) {
			return nil, kgerrors.SchemaViolation(op, key, "must not be null")
		}
		delete(fields, key)
	}
	for key := range fields {
		return nil, kgerrors.SchemaViolation(op, key, "unexpected field")
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	var wire wireKnowledge
	if err := dec.Decode(&wire); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, kgerrors.SchemaViolation(op, typeErr.Field, "expected "+typeErr.Type.String())
		}
		return nil, kgerrors.SchemaViolation(op, "relations", err.Error())
	}

	k := &Knowledge{
		Sentiment:   graph.Sentiment(*wire.Sentiment),
		ContextType: graph.ContextType(*wire.ContextType),
	}
	var err error
	if k.MainTopics, err = stringList(op, "mainTopics", wire.MainTopics); err != nil {
		return nil, err
	}
	if k.Subtopics, err = stringList(op, "subtopics", wire.Subtopics); err != nil {
		return nil, err
	}
	if k.Entities, err = stringList(op, "entities", wire.Entities); err != nil {
		return nil, err
	}

	k.Relations = make([]Relation, 0, len(wire.Relations))
	for i, r := range wire.Relations {
		field := fmt.Sprintf("relations[%d]", i)
		if r == nil {
			return nil, kgerrors.SchemaViolation(op, field, "must be an object")
		}
		if r.From == nil || r.To == nil || r.Type == nil {
			return nil, kgerrors.SchemaViolation(op, field, "from, to and type are required")
		}
		k.Relations = append(k.Relations, Relation{From: *r.From, To: *r.To, Type: *r.Type})
	}

	if err := validate.Struct(k); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return nil, kgerrors.SchemaViolation(op, fe.Namespace(), fmt.Sprintf("failed %q (got %v)", fe.Tag(), fe.Value()))
		}
		return nil, kgerrors.SchemaViolation(op, "$", err.Error())
	}
	return k, nil
}

func stringList(op, field string, in []*string) ([]string, error) {
	out := make([]string, 0, len(in))
	for i, s := range in {
		if s == nil {
			return nil, kgerrors.SchemaViolation(op, fmt.Sprintf("%s[%d]", field, i), "must be a string")
		}
		out = append(out, *s)
	}
	return out, nil
}
